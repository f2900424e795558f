package account

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// ResetNotice carries a freshly issued password reset token to its owner.
type ResetNotice struct {
	Email     string
	Name      string
	Token     string
	ExpiresAt time.Time
}

// ResetNotifier delivers reset tokens.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, n ResetNotice) error
}

// WriterNotifier prints reset notices to Out, one line each. It is the
// delivery used when no mail relay is configured, in the same way the seed
// password is printed on first boot.
type WriterNotifier struct {
	mu  sync.Mutex
	Out io.Writer
}

// NotifyPasswordReset implements ResetNotifier.
func (w *WriterNotifier) NotifyPasswordReset(_ context.Context, n ResetNotice) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.Out, "[rollcall] password reset for %s: token=%s expires=%s\n",
		n.Email, n.Token, n.ExpiresAt.UTC().Format(time.RFC3339))
	return err
}

type discardNotifier struct{}

func (discardNotifier) NotifyPasswordReset(context.Context, ResetNotice) error { return nil }
