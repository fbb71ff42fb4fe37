// Package auth implements the multi-step authentication flow: password
// verification as the first factor, followed by asynchronous biometric
// confirmation against the enrolled face template. Per-session state is
// tracked in memory, keyed by a caller-held token.
package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reivaJAQM/bioaccess/pkg/logging"
	"github.com/reivaJAQM/bioaccess/pkg/recognition"
	"github.com/reivaJAQM/bioaccess/pkg/storage"
)

// Status classifies a result for the presentation layer.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWaiting Status = "waiting"
	StatusError   Status = "error"
)

// Result is the structured outcome of an operation. No raw internal
// errors cross this boundary.
type Result struct {
	Status   Status `json:"status"`
	Message  string `json:"msg"`
	Identity string `json:"identity,omitempty"`
}

// State is the position of a session in the login transaction.
type State int

const (
	// StateAnonymous means no factor has been verified yet.
	StateAnonymous State = iota
	// StateAwaitingBiometric means the password was accepted and the
	// session is waiting for a matching face probe.
	StateAwaitingBiometric
	// StateAuthenticated means the login transaction completed.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAwaitingBiometric:
		return "awaiting-biometric"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "anonymous"
	}
}

// ProbeSource supplies the most recent live face descriptor. Absence
// means "no usable sample yet", not an error.
type ProbeSource interface {
	Current() (recognition.Descriptor, bool)
}

// Session holds the intermediate state of one login transaction.
type Session struct {
	Token      string
	State      State
	PendingID  string // identity awaiting biometric confirmation
	IdentityID string // confirmed identity
	CreatedAt  time.Time

	pendingSince  time.Time
	probeFailures int
	matchInFlight bool
	lastNoMatch   bool
}

// matchJob is a biometric comparison handed off to the background
// worker so the request path never blocks on the linear template scan.
type matchJob struct {
	token     string
	pendingID string
	probe     recognition.Descriptor
	template  recognition.Descriptor
}

type matchResult struct {
	token     string
	pendingID string
	matched   bool
}

// Options configures a Service.
type Options struct {
	// Tolerance is the matching threshold, shared between login
	// matches and enrollment duplicate checks.
	Tolerance float64
	// PendingTimeout expires sessions stuck awaiting biometric
	// confirmation. Zero disables expiry.
	PendingTimeout time.Duration
	// MaxProbeFailures caps failed biometric attempts per session.
	// Zero means unlimited.
	MaxProbeFailures int
}

// Service is the authentication session state machine.
type Service struct {
	store *storage.Store
	probe ProbeSource
	opts  Options
	log   logEntry

	mu       sync.Mutex
	sessions map[string]*Session

	// storeMu serializes in-process load-mutate-save cycles on the
	// store. Cross-process writers remain last-write-wins.
	storeMu sync.Mutex

	jobs    chan matchJob
	results chan matchResult
	quit    chan struct{}
	wg      sync.WaitGroup
}

type logEntry interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// NewService creates the service and starts its background match worker,
// result dispatcher, and pending-session sweeper.
func NewService(store *storage.Store, probe ProbeSource, opts Options) *Service {
	s := &Service{
		store:    store,
		probe:    probe,
		opts:     opts,
		log:      logging.Component("auth"),
		sessions: make(map[string]*Session),
		jobs:     make(chan matchJob, 16),
		results:  make(chan matchResult, 16),
		quit:     make(chan struct{}),
	}

	s.wg.Add(2)
	go s.matchWorker()
	go s.dispatcher()

	if opts.PendingTimeout > 0 {
		s.wg.Add(1)
		go s.sweeper()
	}

	return s
}

// Close stops the background goroutines.
func (s *Service) Close() {
	close(s.quit)
	s.wg.Wait()
}

// Register creates a new identity with a credential secret and no face
// template. A colliding identity key is rejected without mutation.
func (s *Service) Register(id, password, firstName, lastName string) Result {
	id = strings.TrimSpace(id)
	if id == "" || password == "" {
		return Result{Status: StatusError, Message: "missing identity key or password"}
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	records := s.store.Load()
	if records.Exists(id) {
		return Result{Status: StatusError, Message: fmt.Sprintf("identity %s is already registered", id)}
	}

	records.Put(storage.Record{
		ID:        id,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Password:  password,
	})
	if err := s.store.Save(records); err != nil {
		s.log.Warnf("Failed to persist new identity %s: %v", id, err)
		return Result{Status: StatusError, Message: "could not save identity"}
	}

	s.log.Infof("Registered identity %s", id)
	return Result{Status: StatusSuccess, Message: fmt.Sprintf("identity %s registered", id), Identity: id}
}

// Login verifies the credential secret and opens a session. Identities
// with an enrolled face template must additionally pass biometric
// confirmation (poll Verify); identities without one are authenticated
// immediately. A failed check never reveals which factor was wrong.
func (s *Service) Login(id, password string) (string, Result) {
	id = strings.TrimSpace(id)
	if id == "" || password == "" {
		return "", Result{Status: StatusError, Message: "missing identity key or password"}
	}

	rec, ok := s.store.Get(id)
	if !ok || rec.Password != password {
		return "", Result{Status: StatusError, Message: "incorrect credentials"}
	}

	sess := &Session{
		Token:     uuid.NewString(),
		CreatedAt: time.Now(),
	}

	var res Result
	if rec.HasFace() {
		sess.State = StateAwaitingBiometric
		sess.PendingID = id
		sess.pendingSince = time.Now()
		res = Result{Status: StatusWaiting, Message: "biometric confirmation required", Identity: id}
		s.log.Infof("Password accepted for %s, awaiting biometric confirmation", id)
	} else {
		sess.State = StateAuthenticated
		sess.IdentityID = id
		res = Result{Status: StatusSuccess, Message: fmt.Sprintf("welcome, %s", rec.DisplayName()), Identity: id}
		s.log.Infof("Authenticated %s (no biometric enrolled)", id)
	}

	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()

	return sess.Token, res
}

// Verify polls the biometric confirmation step. When a live probe is
// present the comparison runs on the background worker; its outcome is
// applied by the dispatcher and observed on a later poll. While no face
// is in frame the caller gets a waiting status, never a false negative.
func (s *Service) Verify(token string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Result{Status: StatusError, Message: "unknown session"}
	}

	switch sess.State {
	case StateAuthenticated:
		name := sess.IdentityID
		if rec, ok := s.store.Get(sess.IdentityID); ok {
			name = rec.DisplayName()
		}
		return Result{Status: StatusSuccess, Message: fmt.Sprintf("welcome, %s", name), Identity: sess.IdentityID}
	case StateAnonymous:
		return Result{Status: StatusError, Message: "not logged in"}
	}

	if s.expireLocked(sess) {
		return Result{Status: StatusError, Message: "session expired"}
	}
	if s.opts.MaxProbeFailures > 0 && sess.probeFailures >= s.opts.MaxProbeFailures {
		s.resetLocked(sess)
		return Result{Status: StatusError, Message: "too many failed attempts"}
	}

	if sess.lastNoMatch && !sess.matchInFlight {
		sess.lastNoMatch = false
		return Result{Status: StatusError, Message: "no match"}
	}
	if sess.matchInFlight {
		return Result{Status: StatusWaiting, Message: "verifying"}
	}

	probe, present := s.probe.Current()
	if !present {
		return Result{Status: StatusWaiting, Message: "still scanning"}
	}

	rec, ok := s.store.Get(sess.PendingID)
	if !ok || !rec.HasFace() {
		s.resetLocked(sess)
		return Result{Status: StatusError, Message: "identity no longer enrolled"}
	}
	template, err := recognition.DecodeDescriptor(*rec.FaceEncoding)
	if err != nil {
		s.resetLocked(sess)
		s.log.Warnf("Undecodable template for %s: %v", sess.PendingID, err)
		return Result{Status: StatusError, Message: "identity no longer enrolled"}
	}

	sess.matchInFlight = true
	select {
	case s.jobs <- matchJob{token: token, pendingID: sess.PendingID, probe: probe, template: template}:
	default:
		// Worker queue full; retry on the next poll.
		sess.matchInFlight = false
	}

	return Result{Status: StatusWaiting, Message: "verifying"}
}

// EnrollFace stores the current probe as the session identity's face
// template. Only an authenticated session may enroll, only for itself,
// and only when a probe is present. A probe within tolerance of another
// identity's template is rejected as a duplicate: biometric uniqueness
// holds across identities, independent of key uniqueness.
func (s *Service) EnrollFace(token string) Result {
	s.mu.Lock()
	sess, ok := s.sessions[token]
	if !ok || sess.State != StateAuthenticated {
		s.mu.Unlock()
		return Result{Status: StatusError, Message: "not authenticated"}
	}
	identity := sess.IdentityID
	s.mu.Unlock()

	probe, present := s.probe.Current()
	if !present {
		return Result{Status: StatusWaiting, Message: "no face sample yet"}
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	records := s.store.Load()

	var candidates []recognition.Candidate
	for _, rec := range records.All() {
		if rec.ID == identity || !rec.HasFace() {
			continue
		}
		template, err := recognition.DecodeDescriptor(*rec.FaceEncoding)
		if err != nil {
			s.log.Warnf("Skipping undecodable template for %s: %v", rec.ID, err)
			continue
		}
		candidates = append(candidates, recognition.Candidate{ID: rec.ID, Template: template})
	}
	if dup, found := recognition.FindMatch(probe, candidates, s.opts.Tolerance); found {
		return Result{Status: StatusError, Message: fmt.Sprintf("face is already enrolled for identity %s", dup)}
	}

	rec, ok := records.Get(identity)
	if !ok {
		return Result{Status: StatusError, Message: "identity no longer enrolled"}
	}
	encoded := recognition.EncodeDescriptor(probe)
	rec.FaceEncoding = &encoded
	records.Put(rec)

	// The session must still be authenticated for this identity at the
	// moment of the write: a logout racing the duplicate scan must not
	// leave an enrollment behind.
	s.mu.Lock()
	cur, ok := s.sessions[token]
	if !ok || cur.State != StateAuthenticated || cur.IdentityID != identity {
		s.mu.Unlock()
		return Result{Status: StatusError, Message: "not authenticated"}
	}
	err := s.store.Save(records)
	s.mu.Unlock()
	if err != nil {
		s.log.Warnf("Failed to persist face template for %s: %v", identity, err)
		return Result{Status: StatusError, Message: "could not save face template"}
	}

	s.log.Infof("Enrolled face template for %s", identity)
	return Result{Status: StatusSuccess, Message: "face enrolled", Identity: identity}
}

// Logout discards all session data. A background match completing after
// logout is dropped by the dispatcher.
func (s *Service) Logout(token string) Result {
	s.mu.Lock()
	_, existed := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()

	if existed {
		s.log.Debugf("Session %s logged out", token)
	}
	return Result{Status: StatusSuccess, Message: "logged out"}
}

// SessionState returns the state of a session for status reporting.
func (s *Service) SessionState(token string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return StateAnonymous, false
	}
	if sess.State == StateAwaitingBiometric && s.expireLocked(sess) {
		return StateAnonymous, true
	}
	return sess.State, true
}

// resetLocked reverts a session to anonymous. Caller holds s.mu.
func (s *Service) resetLocked(sess *Session) {
	sess.State = StateAnonymous
	sess.PendingID = ""
	sess.IdentityID = ""
	sess.probeFailures = 0
	sess.matchInFlight = false
	sess.lastNoMatch = false
}

// expireLocked reverts a pending session past its deadline. Caller
// holds s.mu.
func (s *Service) expireLocked(sess *Session) bool {
	if s.opts.PendingTimeout <= 0 || sess.State != StateAwaitingBiometric {
		return false
	}
	if time.Since(sess.pendingSince) < s.opts.PendingTimeout {
		return false
	}
	s.log.Infof("Pending session for %s expired", sess.PendingID)
	s.resetLocked(sess)
	return true
}

// matchWorker runs biometric comparisons off the request path.
func (s *Service) matchWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case job := <-s.jobs:
			matched := recognition.IsMatch(job.probe, job.template, s.opts.Tolerance)
			select {
			case s.results <- matchResult{token: job.token, pendingID: job.pendingID, matched: matched}:
			case <-s.quit:
				return
			}
		}
	}
}

// dispatcher applies worker results to sessions. The session must still
// be awaiting the same pending identity: a result racing a logout or a
// fresh login on the same token is dropped.
func (s *Service) dispatcher() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case res := <-s.results:
			s.apply(res)
		}
	}
}

func (s *Service) apply(res matchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[res.token]
	if !ok || sess.State != StateAwaitingBiometric || sess.PendingID != res.pendingID {
		return
	}

	sess.matchInFlight = false
	if res.matched {
		sess.State = StateAuthenticated
		sess.IdentityID = res.pendingID
		sess.PendingID = ""
		sess.lastNoMatch = false
		s.log.Infof("Biometric confirmation succeeded for %s", sess.IdentityID)
	} else {
		sess.probeFailures++
		sess.lastNoMatch = true
		s.log.Debugf("Biometric mismatch for %s (failures: %d)", res.pendingID, sess.probeFailures)
	}
}

// sweeper expires stale pending sessions in the background.
func (s *Service) sweeper() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PendingTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.mu.Lock()
			for _, sess := range s.sessions {
				s.expireLocked(sess)
			}
			s.mu.Unlock()
		}
	}
}
