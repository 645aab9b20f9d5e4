package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-attendance/internal/model"
)

func pool(n int) []model.Registration {
	regs := make([]model.Registration, n)
	for i := range n {
		regs[i] = model.Registration{ID: fmt.Sprintf("r%d", i), EventID: "e1", UserID: fmt.Sprintf("u%d", i)}
	}
	return regs
}

func TestDrawExhaustsPoolWithoutRepeats(t *testing.T) {
	for _, n := range []int{1, 3, 10, 50} {
		t.Run(fmt.Sprintf("pool of %d", n), func(t *testing.T) {
			s := NewSession("e1", WithSource(rand.NewPCG(uint64(n), 7)))
			regs := pool(n)
			seen := make(map[string]bool)

			for i := range n {
				res, err := s.Draw(context.Background(), regs)
				if err != nil {
					t.Fatalf("draw %d: %v", i+1, err)
				}
				if seen[res.Winner.UserID] {
					t.Fatalf("draw %d repeated winner %s", i+1, res.Winner.UserID)
				}
				seen[res.Winner.UserID] = true
				if res.Remaining != n-i-1 {
					t.Fatalf("draw %d: expected %d remaining, got %d", i+1, n-i-1, res.Remaining)
				}
			}

			_, err := s.Draw(context.Background(), regs)
			if !errors.Is(err, model.ErrNoEligibleParticipants) {
				t.Fatalf("expected ErrNoEligibleParticipants after %d draws, got %v", n, err)
			}
			if got := len(s.Drawn()); got != n {
				t.Fatalf("expected %d drawn, got %d", n, got)
			}
		})
	}
}

func TestDrawEmptyPool(t *testing.T) {
	s := NewSession("e1")
	if _, err := s.Draw(context.Background(), nil); !errors.Is(err, model.ErrNoEligibleParticipants) {
		t.Fatalf("expected ErrNoEligibleParticipants, got %v", err)
	}
}

func TestResetMakesEveryoneEligibleAgain(t *testing.T) {
	s := NewSession("e1", WithSpins(0))
	regs := pool(3)
	for range 3 {
		if _, err := s.Draw(context.Background(), regs); err != nil {
			t.Fatalf("draw: %v", err)
		}
	}

	s.Reset()
	if len(s.Drawn()) != 0 || s.Candidate() != "" {
		t.Fatalf("expected empty session after reset, drawn=%v candidate=%q", s.Drawn(), s.Candidate())
	}
	for range 3 {
		if _, err := s.Draw(context.Background(), regs); err != nil {
			t.Fatalf("draw after reset: %v", err)
		}
	}
}

func TestSpinsComeFromEligibleSet(t *testing.T) {
	var frames []Spin
	s := NewSession("e1", WithObserver(func(sp Spin) { frames = append(frames, sp) }))
	regs := pool(4)

	first, err := s.Draw(context.Background(), regs)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	frames = nil

	res, err := s.Draw(context.Background(), regs)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if len(res.Spins) != DefaultSpins || len(frames) != DefaultSpins {
		t.Fatalf("expected %d spins, got %d (observed %d)", DefaultSpins, len(res.Spins), len(frames))
	}
	for i, sp := range frames {
		if sp.Candidate == first.Winner.UserID {
			t.Fatalf("spin %d showed an already drawn user", i+1)
		}
		if sp.Index != i+1 || sp.Total != DefaultSpins {
			t.Fatalf("unexpected spin numbering %+v", sp)
		}
	}
	if s.Candidate() != res.Winner.UserID {
		t.Fatalf("expected candidate to settle on winner %s, got %s", res.Winner.UserID, s.Candidate())
	}
}

func TestDrawIsRoughlyUniform(t *testing.T) {
	s := NewSession("e1", WithSpins(0), WithSource(rand.NewPCG(42, 99)))
	regs := pool(4)
	counts := make(map[string]int)

	const rounds = 8000
	for range rounds {
		res, err := s.Draw(context.Background(), regs)
		if err != nil {
			t.Fatalf("draw: %v", err)
		}
		counts[res.Winner.UserID]++
		s.Reset()
	}

	for _, reg := range regs {
		got := counts[reg.UserID]
		if got < 1700 || got > 2300 {
			t.Fatalf("user %s won %d of %d rounds, expected about %d", reg.UserID, got, rounds, rounds/4)
		}
	}
}

func TestCancelledRevealCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession("e1",
		WithSpinInterval(time.Hour),
		WithObserver(func(Spin) { cancel() }),
	)

	_, err := s.Draw(ctx, pool(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(s.Drawn()) != 0 {
		t.Fatalf("expected nothing committed, got %v", s.Drawn())
	}
	if s.Candidate() != "" {
		t.Fatalf("expected candidate cleared, got %q", s.Candidate())
	}
}

func TestDuplicateUsersInPoolCountOnce(t *testing.T) {
	s := NewSession("e1", WithSpins(0))
	regs := append(pool(2), model.Registration{ID: "dup", EventID: "e1", UserID: "u0"})

	for range 2 {
		if _, err := s.Draw(context.Background(), regs); err != nil {
			t.Fatalf("draw: %v", err)
		}
	}
	if _, err := s.Draw(context.Background(), regs); !errors.Is(err, model.ErrNoEligibleParticipants) {
		t.Fatalf("expected ErrNoEligibleParticipants, got %v", err)
	}
}
