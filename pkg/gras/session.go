package gras

import "sync"

// AuthSession correlates the outer (frontend) and inner (federation) OAuth
// legs of one authorization attempt. It is keyed by the server-generated
// state and read once when the IdP redirects back.
type AuthSession struct {
	// outer leg, taken verbatim from the frontend request
	ClientID            string
	State               string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	ResponseType        string
	Scope               string
	Nonce               string

	// inner leg
	IdpIssuer string
	// never leaves the server; used only in the inner code exchange
	CodeVerifier string

	// set only on full success of the completion leg
	AuthorizationCode string
}

// SessionStore is a bounded, state-keyed session map. Insertion order defines
// eviction order: once the capacity is exceeded the oldest-inserted entry is
// dropped. Sessions do not expire by time.
type SessionStore struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*AuthSession
	order    []string
}

func NewSessionStore(capacity int) *SessionStore {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	return &SessionStore{
		capacity: capacity,
		sessions: make(map[string]*AuthSession),
	}
}

func (s *SessionStore) Put(state string, session *AuthSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[state]; !exists {
		s.order = append(s.order, state)
	}
	s.sessions[state] = session

	for len(s.order) > s.capacity {
		eldest := s.order[0]
		s.order = s.order[1:]
		delete(s.sessions, eldest)
	}
}

func (s *SessionStore) Get(state string) (*AuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[state]
	return session, ok
}

// Delete exists for hygiene; the flow itself never deletes sessions,
// capacity pressure reclaims them.
func (s *SessionStore) Delete(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[state]; !ok {
		return
	}
	delete(s.sessions, state)
	for i, key := range s.order {
		if key == state {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
