package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/voxmeet/voxmeet/pkg/core/providers"
)

func TestClassify_TransientCodes(t *testing.T) {
	for _, code := range []string{"DEADLINE_EXCEEDED", "RESOURCE_EXHAUSTED", "UNAVAILABLE", "INTERNAL", "SERVICE_UNAVAILABLE"} {
		err := providers.New("stt", code, 0, "boom")
		if Classify(err) != Transient {
			t.Fatalf("code %s: expected transient", code)
		}
	}
	if Classify(providers.New("stt", "INVALID_ARGUMENT", 0, "boom")) != Permanent {
		t.Fatalf("INVALID_ARGUMENT: expected permanent")
	}
}

func TestClassify_TransientStatuses(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		err := providers.New("tts", "", status, "boom")
		if Classify(err) != Transient {
			t.Fatalf("status %d: expected transient", status)
		}
	}
	for _, status := range []int{400, 401, 403, 404} {
		err := providers.New("tts", "", status, "boom")
		if Classify(err) != Permanent {
			t.Fatalf("status %d: expected permanent", status)
		}
	}
}

func TestClassify_MessageFragments(t *testing.T) {
	for _, msg := range []string{"request Timeout", "deadline exceeded", "service UNAVAILABLE", "resource exhausted", "rate limit hit", "Too Many Requests"} {
		if Classify(errors.New(msg)) != Transient {
			t.Fatalf("message %q: expected transient", msg)
		}
	}
	if Classify(errors.New("invalid credentials")) != Permanent {
		t.Fatalf("expected permanent for auth failure")
	}
}

func TestClassify_SocketErrors(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT} {
		wrapped := fmt.Errorf("dial: %w", errno)
		if Classify(wrapped) != Transient {
			t.Fatalf("errno %v: expected transient", errno)
		}
	}
}

func TestClassify_ContextCanceled(t *testing.T) {
	if Classify(context.Canceled) != Permanent {
		t.Fatalf("context.Canceled must not be retried")
	}
}

func TestIsQuota(t *testing.T) {
	if !IsQuota(providers.New("stt", "RESOURCE_EXHAUSTED", 0, "quota")) {
		t.Fatalf("expected quota for RESOURCE_EXHAUSTED")
	}
	if !IsQuota(providers.New("stt", "", 429, "slow down")) {
		t.Fatalf("expected quota for 429")
	}
	if IsQuota(providers.New("stt", "UNAVAILABLE", 503, "down")) {
		t.Fatalf("UNAVAILABLE is not quota")
	}
}

func TestDo_PermanentSurfacesImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, "translate", fastPolicy(), func(context.Context) error {
		calls++
		return providers.New("translate", "", 401, "unauthorized")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDo_TransientRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, "translate", fastPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return providers.New("translate", "", 503, "unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDo_AttemptBudgetBoundsCalls(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, "translate", fastPolicy(), func(context.Context) error {
		calls++
		return providers.New("translate", "", 503, "unavailable")
	})
	if err == nil {
		t.Fatalf("expected error after budget exhausted")
	}
	if calls != 4 {
		t.Fatalf("expected exactly MaxAttempts=4 calls, got %d", calls)
	}
}

func fastPolicy() Policy {
	return Policy{
		Initial:     time.Millisecond,
		Multiplier:  2,
		Max:         5 * time.Millisecond,
		Jitter:      0.1,
		MaxAttempts: 4,
	}
}
