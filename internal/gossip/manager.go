package gossip

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Candidate is a pending block hash advertised by a peer that the local
// ledger has not yet fetched.
type Candidate struct {
	Hash   string
	Height uint64
	PeerID string
}

// Manager holds the peer map, the candidate queue, and the query queue —
// everything the node mutex in §5 of the design serializes. It does not
// itself open sockets; Dial/Accept (transport.go) do that and hand Manager
// the resulting Peer to track.
type Manager struct {
	mu sync.Mutex

	ownUUID string
	peers   map[string]*Peer

	candidates []Candidate
	queryQueue []string
}

// NewManager returns an empty manager identifying itself as ownUUID.
func NewManager(ownUUID string) *Manager {
	return &Manager{ownUUID: ownUUID, peers: make(map[string]*Peer)}
}

// AddPeer registers p under id (its UUID).
func (m *Manager) AddPeer(id string, p *Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[id] = p
}

// RemovePeer drops id from the peer map and any queue it's in.
func (m *Manager) RemovePeer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
	queue := m.queryQueue[:0]
	for _, q := range m.queryQueue {
		if q != id {
			queue = append(queue, q)
		}
	}
	m.queryQueue = queue
}

// Peer returns the peer registered under id, if any.
func (m *Manager) Peer(id string) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

// ConnFor returns the live connection for peer id, if it is known and
// connected.
func (m *Manager) ConnFor(id string) (*websocket.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok || p.Conn == nil {
		return nil, false
	}
	return p.Conn, true
}

// Peers returns a snapshot of every known peer ID.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	return ids
}

// BroadcastTargets returns peer IDs currently in connected or queried
// state — the set a freshly mined block is broadcast to, best-effort.
func (m *Manager) BroadcastTargets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, p := range m.peers {
		if p.State == StateConnected || p.State == StateQueried {
			ids = append(ids, id)
		}
	}
	return ids
}

// HandleIndex compares a peer's advertised height against localHeight; if
// the peer is ahead, it enqueues a candidate for its highest block.
func (m *Manager) HandleIndex(peerID string, idx IndexPayload, localHeight uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx.Height <= localHeight {
		return
	}
	m.candidates = append(m.candidates, Candidate{Hash: idx.Highest, Height: idx.Height, PeerID: peerID})
}

// EnqueueCandidate queues hash/height from peerID directly — used when a
// fetched block's previous is itself unknown and not already an orphan.
func (m *Manager) EnqueueCandidate(c Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candidates = append(m.candidates, c)
}

// PopCandidate dequeues the oldest pending candidate, if any.
func (m *Manager) PopCandidate() (Candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.candidates) == 0 {
		return Candidate{}, false
	}
	c := m.candidates[0]
	m.candidates = m.candidates[1:]
	return c, true
}

// Tick performs one scheduler step (§4.11): returns the next candidate to
// fetch (if any) and the next peer to query (if any), refilling the query
// queue with every known peer once it runs dry.
func (m *Manager) Tick() (candidate Candidate, hasCandidate bool, queryPeer string, hasQueryPeer bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.candidates) > 0 {
		candidate, hasCandidate = m.candidates[0], true
		m.candidates = m.candidates[1:]
	}

	if len(m.queryQueue) == 0 {
		for id := range m.peers {
			m.queryQueue = append(m.queryQueue, id)
		}
	}
	if len(m.queryQueue) > 0 {
		queryPeer, hasQueryPeer = m.queryQueue[0], true
		m.queryQueue = m.queryQueue[1:]
	}
	return
}
