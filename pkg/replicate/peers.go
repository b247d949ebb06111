// Package replicate pulls metadata and content from peer nodes: each node
// polls its peers' change feeds and applies the records locally, letting
// the deconfliction rules settle concurrent writes.
package replicate

import (
	"net/http"
	"sync"
	"time"

	"repofs/pkg/log"
)

const (
	defaultHealthCheckInterval = 5 * time.Second
	defaultHealthCheckTimeout  = 5 * time.Second
	maxConsecutiveFailures     = 3
)

// PeerStatus tracks one peer's reachability.
type PeerStatus struct {
	URL       string
	Online    bool
	Failures  int
	LastCheck time.Time
}

// PeerManager health-checks the configured peers in the background and
// hands out the online subset for pulling.
type PeerManager struct {
	mu       sync.RWMutex
	peers    map[string]*PeerStatus
	client   *http.Client
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewPeerManager(peerURLs []string, interval, timeout time.Duration) *PeerManager {
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeout
	}

	peers := make(map[string]*PeerStatus, len(peerURLs))
	for _, url := range peerURLs {
		peers[url] = &PeerStatus{
			URL:    url,
			Online: true, // Assume online until proven otherwise
		}
	}

	return &PeerManager{
		peers:    peers,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background health checks.
func (pm *PeerManager) Start() {
	pm.checkAllPeers()

	pm.wg.Add(1)
	go pm.healthCheckLoop()

	log.Info().
		Int("peer_count", len(pm.peers)).
		Dur("interval", pm.interval).
		Msg("Peer manager started")
}

// Stop gracefully stops the health checks.
func (pm *PeerManager) Stop() {
	close(pm.stopCh)
	pm.wg.Wait()
	log.Info().Msg("Peer manager stopped")
}

// Online returns the URLs of peers currently considered reachable.
func (pm *PeerManager) Online() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	online := make([]string, 0, len(pm.peers))
	for _, peer := range pm.peers {
		if peer.Online {
			online = append(online, peer.URL)
		}
	}
	return online
}

// MarkFailure records a failed pull; enough consecutive failures take the
// peer offline until a health check brings it back.
func (pm *PeerManager) MarkFailure(url string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	peer, ok := pm.peers[url]
	if !ok {
		return
	}
	peer.Failures++
	if peer.Failures >= maxConsecutiveFailures && peer.Online {
		peer.Online = false
		log.Warn().Str("peer", url).Int("failures", peer.Failures).Msg("Peer marked offline")
	}
}

// MarkSuccess resets the failure counter.
func (pm *PeerManager) MarkSuccess(url string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if peer, ok := pm.peers[url]; ok {
		peer.Failures = 0
		peer.Online = true
	}
}

func (pm *PeerManager) healthCheckLoop() {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pm.checkAllPeers()
		case <-pm.stopCh:
			return
		}
	}
}

func (pm *PeerManager) checkAllPeers() {
	pm.mu.RLock()
	urls := make([]string, 0, len(pm.peers))
	for url := range pm.peers {
		urls = append(urls, url)
	}
	pm.mu.RUnlock()

	for _, url := range urls {
		online := pm.probe(url)
		pm.mu.Lock()
		peer := pm.peers[url]
		peer.LastCheck = time.Now()
		if online {
			peer.Online = true
			peer.Failures = 0
		} else {
			peer.Failures++
			if peer.Failures >= maxConsecutiveFailures {
				peer.Online = false
			}
		}
		pm.mu.Unlock()
	}
}

func (pm *PeerManager) probe(url string) bool {
	resp, err := pm.client.Get(url + "/node/info")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
