package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	batch "github.com/whoisdsmith/SmartFileOrganizer"
	"github.com/whoisdsmith/SmartFileOrganizer/id"
	"github.com/whoisdsmith/SmartFileOrganizer/job"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob() *job.Job {
	return &job.Job{
		Entity:   batch.NewEntity(),
		ID:       id.NewJobID(),
		Task:     "noop",
		Priority: job.PriorityNormal,
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
			order = append(order, name+":before")
			result, err := next(ctx)
			order = append(order, name+":after")
			return result, err
		}
	}

	chain := Chain(mk("outer"), mk("inner"))
	result, err := chain(context.Background(), testJob(), func(context.Context) ([]byte, error) {
		order = append(order, "handler")
		return []byte(`"done"`), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if string(result) != `"done"` {
		t.Fatalf("result = %q", result)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestChainEmpty(t *testing.T) {
	chain := Chain()
	result, err := chain(context.Background(), testJob(), func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(result) != "ok" {
		t.Fatalf("empty chain: %q, %v", result, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	mw := Recover(discard())
	result, err := mw(context.Background(), testJob(), func(context.Context) ([]byte, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if result != nil {
		t.Fatalf("result = %q, want nil", result)
	}
}

func TestRecoverPassThrough(t *testing.T) {
	mw := Recover(discard())
	result, err := mw(context.Background(), testJob(), func(context.Context) ([]byte, error) {
		return []byte("fine"), nil
	})
	if err != nil || string(result) != "fine" {
		t.Fatalf("pass-through: %q, %v", result, err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	j := testJob()
	j.Timeout = 20 * time.Millisecond

	mw := Timeout(discard())
	_, err := mw(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return []byte("too late"), nil
		}
	})
	if !errors.Is(err, batch.ErrJobTimeout) {
		t.Fatalf("err = %v, want ErrJobTimeout", err)
	}
}

func TestTimeoutZeroIsUnbounded(t *testing.T) {
	mw := Timeout(discard())
	result, err := mw(context.Background(), testJob(), func(ctx context.Context) ([]byte, error) {
		if _, hasDeadline := ctx.Deadline(); hasDeadline {
			t.Error("unexpected deadline on context")
		}
		return []byte("ok"), nil
	})
	if err != nil || string(result) != "ok" {
		t.Fatalf("unbounded: %q, %v", result, err)
	}
}

func TestLoggingPreservesResultAndError(t *testing.T) {
	mw := Logging(discard())

	wantErr := errors.New("handler error")
	_, err := mw(context.Background(), testJob(), func(context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	result, err := mw(context.Background(), testJob(), func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(result) != "ok" {
		t.Fatalf("success path: %q, %v", result, err)
	}
}
