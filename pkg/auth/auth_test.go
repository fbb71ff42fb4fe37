package auth

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reivaJAQM/bioaccess/pkg/recognition"
	"github.com/reivaJAQM/bioaccess/pkg/storage"
)

// Uniform 128-dim descriptors make distances easy to reason about: two
// vectors offset by d everywhere are sqrt(128)*d apart, about 11.3*d.
// An offset of 0.01 stays well inside the 0.5 tolerance, 0.1 is well
// outside.

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestService(t *testing.T, opts Options) (*Service, *fakeProbe, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "records.json"), false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	probe := &fakeProbe{}
	svc := NewService(store, probe, opts)
	t.Cleanup(svc.Close)
	return svc, probe, store
}

// enrollIdentity registers an identity, enrolls the given descriptor as
// its face template, and logs back out.
func enrollIdentity(t *testing.T, svc *Service, probe *fakeProbe, id, password string, v float64) {
	t.Helper()
	if res := svc.Register(id, password, "", ""); res.Status != StatusSuccess {
		t.Fatalf("Register(%s): %+v", id, res)
	}
	token, res := svc.Login(id, password)
	if res.Status != StatusSuccess {
		t.Fatalf("Login(%s): %+v", id, res)
	}
	probe.Set(uniformDescriptor(v))
	if res := svc.EnrollFace(token); res.Status != StatusSuccess {
		t.Fatalf("EnrollFace(%s): %+v", id, res)
	}
	probe.Clear()
	svc.Logout(token)
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Tolerance: 0.5})

	for _, tc := range []struct{ id, password string }{
		{"", "pw"},
		{"   ", "pw"},
		{"42", ""},
	} {
		if res := svc.Register(tc.id, tc.password, "", ""); res.Status != StatusError {
			t.Errorf("Register(%q, %q) = %+v, want error", tc.id, tc.password, res)
		}
	}
}

func TestRegister_DuplicateKeyLeavesRecordIntact(t *testing.T) {
	svc, _, store := newTestService(t, Options{Tolerance: 0.5})

	if res := svc.Register("42", "original", "Ada", "Lovelace"); res.Status != StatusSuccess {
		t.Fatalf("first Register: %+v", res)
	}

	res := svc.Register("42", "other", "Eve", "")
	if res.Status != StatusError {
		t.Fatalf("duplicate Register = %+v, want error", res)
	}
	if !strings.Contains(res.Message, "42") {
		t.Errorf("duplicate message should name the key: %q", res.Message)
	}

	rec, _ := store.Get("42")
	if rec.Password != "original" || rec.FirstName != "Ada" {
		t.Errorf("existing record was altered: %+v", rec)
	}
}

func TestLogin_IncorrectCredentials(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Tolerance: 0.5})
	svc.Register("42", "pw", "", "")

	// Unknown identity and wrong password must be indistinguishable.
	_, unknownRes := svc.Login("99", "pw")
	_, wrongRes := svc.Login("42", "nope")
	for _, res := range []Result{unknownRes, wrongRes} {
		if res.Status != StatusError || res.Message != "incorrect credentials" {
			t.Errorf("Login = %+v, want incorrect credentials error", res)
		}
	}
}

func TestLogin_NoFaceAuthenticatesImmediately(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Tolerance: 0.5})
	svc.Register("42", "pw", "Ada", "Lovelace")

	token, res := svc.Login("42", "pw")
	if res.Status != StatusSuccess {
		t.Fatalf("Login = %+v, want success", res)
	}
	if token == "" {
		t.Fatal("expected a session token")
	}

	if st, ok := svc.SessionState(token); !ok || st != StateAuthenticated {
		t.Errorf("SessionState = %v, %v; want authenticated", st, ok)
	}
	if res := svc.Verify(token); res.Status != StatusSuccess || res.Identity != "42" {
		t.Errorf("Verify on authenticated session = %+v", res)
	}
}

func TestEnrollFace(t *testing.T) {
	svc, probe, store := newTestService(t, Options{Tolerance: 0.5})
	svc.Register("42", "pw", "", "")
	token, _ := svc.Login("42", "pw")

	// No probe yet.
	if res := svc.EnrollFace(token); res.Status != StatusWaiting {
		t.Errorf("EnrollFace without probe = %+v, want waiting", res)
	}

	probe.Set(uniformDescriptor(0.3))
	if res := svc.EnrollFace(token); res.Status != StatusSuccess {
		t.Fatalf("EnrollFace = %+v, want success", res)
	}

	rec, _ := store.Get("42")
	if !rec.HasFace() {
		t.Error("face template not persisted")
	}
}

// probeFunc adapts a function to ProbeSource.
type probeFunc func() (recognition.Descriptor, bool)

func (f probeFunc) Current() (recognition.Descriptor, bool) {
	return f()
}

func TestEnrollFace_LogoutDuringEnrollment(t *testing.T) {
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "records.json"), false)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// The probe source logs the session out mid-enrollment, after the
	// authentication check but before the template is written.
	var svc *Service
	var token string
	probe := probeFunc(func() (recognition.Descriptor, bool) {
		svc.Logout(token)
		return uniformDescriptor(0.3), true
	})

	svc = NewService(store, probe, Options{Tolerance: 0.5})
	defer svc.Close()

	svc.Register("42", "pw", "", "")
	token, _ = svc.Login("42", "pw")

	if res := svc.EnrollFace(token); res.Status != StatusError {
		t.Errorf("EnrollFace racing a logout = %+v, want error", res)
	}
	if rec, _ := store.Get("42"); rec.HasFace() {
		t.Error("template must not be persisted for a logged-out session")
	}
}

func TestRegister_ConcurrentSameKey(t *testing.T) {
	svc, _, store := newTestService(t, Options{Tolerance: 0.5})

	const writers = 8
	results := make([]Result, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Register("42", fmt.Sprintf("pw-%d", i), "", "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, res := range results {
		if res.Status == StatusSuccess {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("%d of %d concurrent registrations succeeded, want exactly 1", successes, writers)
	}
	if !store.Exists("42") {
		t.Error("identity not persisted")
	}
}

func TestEnrollFace_RequiresAuthenticatedSession(t *testing.T) {
	svc, probe, _ := newTestService(t, Options{Tolerance: 0.5})
	enrollIdentity(t, svc, probe, "42", "pw", 0.3)

	if res := svc.EnrollFace("no-such-token"); res.Status != StatusError {
		t.Errorf("EnrollFace with unknown token = %+v, want error", res)
	}

	// A session still awaiting biometric confirmation may not enroll.
	token, res := svc.Login("42", "pw")
	if res.Status != StatusWaiting {
		t.Fatalf("Login = %+v, want waiting", res)
	}
	probe.Set(uniformDescriptor(0.3))
	if res := svc.EnrollFace(token); res.Status != StatusError {
		t.Errorf("EnrollFace while awaiting biometric = %+v, want error", res)
	}
}

func TestEnrollFace_RejectsDuplicateAcrossIdentities(t *testing.T) {
	svc, probe, _ := newTestService(t, Options{Tolerance: 0.5})
	enrollIdentity(t, svc, probe, "alice", "pw", 0.3)

	svc.Register("bob", "pw", "", "")
	token, _ := svc.Login("bob", "pw")

	// Within tolerance of alice's template: rejected, naming alice.
	probe.Set(uniformDescriptor(0.31))
	res := svc.EnrollFace(token)
	if res.Status != StatusError {
		t.Fatalf("duplicate EnrollFace = %+v, want error", res)
	}
	if !strings.Contains(res.Message, "alice") {
		t.Errorf("duplicate message should name the conflicting identity: %q", res.Message)
	}

	// Far from every template: accepted.
	probe.Set(uniformDescriptor(0.9))
	if res := svc.EnrollFace(token); res.Status != StatusSuccess {
		t.Errorf("distinct EnrollFace = %+v, want success", res)
	}
}

func TestLogin_BiometricConfirmation(t *testing.T) {
	svc, probe, _ := newTestService(t, Options{Tolerance: 0.5})
	enrollIdentity(t, svc, probe, "42", "pw", 0.3)

	token, res := svc.Login("42", "pw")
	if res.Status != StatusWaiting {
		t.Fatalf("Login with enrolled face = %+v, want waiting", res)
	}
	if st, _ := svc.SessionState(token); st != StateAwaitingBiometric {
		t.Fatalf("SessionState = %v, want awaiting-biometric", st)
	}

	// No face in frame yet.
	if res := svc.Verify(token); res.Status != StatusWaiting || res.Message != "still scanning" {
		t.Errorf("Verify without probe = %+v", res)
	}

	// A probe within tolerance confirms the login on a later poll.
	probe.Set(uniformDescriptor(0.305))
	waitFor(t, func() bool {
		return svc.Verify(token).Status == StatusSuccess
	})
	if st, _ := svc.SessionState(token); st != StateAuthenticated {
		t.Errorf("SessionState after confirmation = %v, want authenticated", st)
	}
}

func TestVerify_NoMatchKeepsSessionPending(t *testing.T) {
	svc, probe, _ := newTestService(t, Options{Tolerance: 0.5})
	enrollIdentity(t, svc, probe, "42", "pw", 0.3)

	token, _ := svc.Login("42", "pw")

	// A probe far outside tolerance reports a mismatch once, then the
	// session keeps waiting for a better sample.
	probe.Set(uniformDescriptor(0.9))
	waitFor(t, func() bool {
		res := svc.Verify(token)
		return res.Status == StatusError && res.Message == "no match"
	})
	if st, _ := svc.SessionState(token); st != StateAwaitingBiometric {
		t.Errorf("SessionState after mismatch = %v, want awaiting-biometric", st)
	}

	// The right face still gets through afterwards.
	probe.Set(uniformDescriptor(0.3))
	waitFor(t, func() bool {
		return svc.Verify(token).Status == StatusSuccess
	})
}

func TestVerify_MaxProbeFailures(t *testing.T) {
	svc, probe, _ := newTestService(t, Options{Tolerance: 0.5, MaxProbeFailures: 1})
	enrollIdentity(t, svc, probe, "42", "pw", 0.3)

	token, _ := svc.Login("42", "pw")
	probe.Set(uniformDescriptor(0.9))

	waitFor(t, func() bool {
		res := svc.Verify(token)
		return res.Status == StatusError && res.Message == "too many failed attempts"
	})

	// The session was reset to anonymous.
	if res := svc.Verify(token); res.Status != StatusError || res.Message != "not logged in" {
		t.Errorf("Verify after reset = %+v", res)
	}
}

func TestVerify_PendingSessionExpires(t *testing.T) {
	svc, probe, _ := newTestService(t, Options{Tolerance: 0.5, PendingTimeout: 30 * time.Millisecond})
	enrollIdentity(t, svc, probe, "42", "pw", 0.3)

	token, res := svc.Login("42", "pw")
	if res.Status != StatusWaiting {
		t.Fatalf("Login = %+v, want waiting", res)
	}

	waitFor(t, func() bool {
		st, ok := svc.SessionState(token)
		return ok && st == StateAnonymous
	})
	if res := svc.Verify(token); res.Status != StatusError {
		t.Errorf("Verify on expired session = %+v, want error", res)
	}
}

func TestVerify_AuthenticatedAfterRecordRemoved(t *testing.T) {
	svc, _, store := newTestService(t, Options{Tolerance: 0.5})
	svc.Register("42", "pw", "Ada", "Lovelace")
	token, _ := svc.Login("42", "pw")

	// The record disappears out from under the live session.
	if err := store.Save(storage.NewRecords()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	res := svc.Verify(token)
	if res.Status != StatusSuccess || res.Identity != "42" {
		t.Fatalf("Verify = %+v, want success for the live session", res)
	}
	if !strings.Contains(res.Message, "42") {
		t.Errorf("welcome message should fall back to the identity key: %q", res.Message)
	}
}

func TestVerify_UnknownSession(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Tolerance: 0.5})
	if res := svc.Verify("no-such-token"); res.Status != StatusError {
		t.Errorf("Verify = %+v, want error", res)
	}
}

func TestLogout(t *testing.T) {
	svc, _, _ := newTestService(t, Options{Tolerance: 0.5})
	svc.Register("42", "pw", "", "")
	token, _ := svc.Login("42", "pw")

	if res := svc.Logout(token); res.Status != StatusSuccess {
		t.Errorf("Logout = %+v, want success", res)
	}
	if res := svc.Verify(token); res.Status != StatusError {
		t.Errorf("Verify after logout = %+v, want error", res)
	}

	// Logging out an unknown token is still a success.
	if res := svc.Logout("no-such-token"); res.Status != StatusSuccess {
		t.Errorf("Logout of unknown token = %+v, want success", res)
	}
}
