package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/vinayprograms/browserbridge/llm"
)

// tinyPNG is a minimal 1x1 PNG, used by the simulated session as its
// screenshot payload.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41, 0x54,
	0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00, 0x05,
	0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4,
	0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44,
	0xae, 0x42, 0x60, 0x82,
}

// SimulatedFactory builds agents that answer the instruction through the
// configured language model instead of driving a real browser. It is the
// default factory when no driver integration is wired, and doubles as the
// test double for the orchestrator.
type SimulatedFactory struct{}

// New implements Factory.
func (SimulatedFactory) New(ctx context.Context, spec LaunchSpec) (Agent, error) {
	if spec.Chat == nil {
		return nil, fmt.Errorf("simulated agent requires a chat provider")
	}
	return &SimulatedAgent{
		spec:    spec,
		session: newSimSession(),
	}, nil
}

// SimulatedAgent satisfies Agent without a real browser. It honors the
// cooperative stop/pause protocol: Stop is observed between phases, Pause
// blocks Run until Resume.
type SimulatedAgent struct {
	spec    LaunchSpec
	session *simSession

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

func (a *SimulatedAgent) initCond() {
	if a.cond == nil {
		a.cond = sync.NewCond(&a.mu)
	}
}

// Run implements Agent.
func (a *SimulatedAgent) Run(ctx context.Context) (string, error) {
	if err := a.checkpoint(ctx); err != nil {
		return "", err
	}

	system := "You are a browser automation agent. Carry out the user's " +
		"instruction against the web and reply with the final result only."
	if a.spec.OutputSchema != "" {
		system += " The result must be JSON conforming to this schema: " + a.spec.OutputSchema
	}

	resp, err := a.spec.Chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: a.spec.Instruction},
		},
	})
	if err != nil {
		return "", err
	}

	if err := a.checkpoint(ctx); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// checkpoint blocks while paused and surfaces a requested stop.
func (a *SimulatedAgent) checkpoint(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initCond()

	for a.paused && !a.stopped {
		// Cond has no context hookup; stop and resume both broadcast, and
		// both are how a paused run ever continues.
		a.cond.Wait()
	}
	if a.stopped {
		return ErrStopped
	}
	return ctx.Err()
}

// Stop implements Agent.
func (a *SimulatedAgent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initCond()
	a.stopped = true
	a.cond.Broadcast()
}

// Pause implements Agent.
func (a *SimulatedAgent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = true
}

// Resume implements Agent.
func (a *SimulatedAgent) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initCond()
	a.paused = false
	a.cond.Broadcast()
}

// Session implements Agent.
func (a *SimulatedAgent) Session() Session {
	return a.session
}

// simSession is the simulated runtime session.
type simSession struct {
	mu     sync.Mutex
	closed bool
}

func newSimSession() *simSession {
	return &simSession{}
}

// TakeScreenshot implements Capturer.
func (s *simSession) TakeScreenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	shot := make([]byte, len(tinyPNG))
	copy(shot, tinyPNG)
	return shot, nil
}

// GetCookies implements Session.
func (s *simSession) GetCookies(ctx context.Context) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return []map[string]interface{}{}, nil
}

// Connected implements Session.
func (s *simSession) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close implements Session.
func (s *simSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
