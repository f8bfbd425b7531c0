package auction

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudx-io/blindauction/oblivious"
)

// Relayer carries decrypt requests to whatever holds decryption authority.
// The engine fires a request and returns; the plaintext comes back later
// through Engine.DecryptCallback.
//
// RequestDecrypt is invoked while the engine holds its own lock, so
// implementations must not call back into the engine synchronously.
type Relayer interface {
	RequestDecrypt(req DecryptRequest) error
}

// LoopbackRelayer fulfills decrypt requests against the local provider on a
// background goroutine, closing the async loop for single-process
// deployments. Provider refusals are logged and dropped; the engine keeps
// the request pending, exactly as with an unresponsive external relayer.
type LoopbackRelayer struct {
	provider oblivious.Provider
	log      *zap.Logger

	mu     sync.Mutex
	engine *Engine
}

// NewLoopbackRelayer creates a relayer over the provider. Bind the engine
// after construction.
func NewLoopbackRelayer(provider oblivious.Provider, log *zap.Logger) *LoopbackRelayer {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoopbackRelayer{
		provider: provider,
		log:      log,
	}
}

// Bind sets the callback target. The engine and relayer reference each
// other, so the relayer is built first and bound once the engine exists.
func (r *LoopbackRelayer) Bind(e *Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engine = e
}

// RequestDecrypt schedules the decrypt and returns immediately.
func (r *LoopbackRelayer) RequestDecrypt(req DecryptRequest) error {
	r.mu.Lock()
	target := r.engine
	r.mu.Unlock()
	if target == nil {
		return fmt.Errorf("loopback relayer not bound to an engine")
	}

	go func() {
		plaintext, err := r.provider.Decrypt(req.Handle, req.Requester)
		if err != nil {
			r.log.Warn("decrypt request refused by provider",
				zap.String("request_id", string(req.ID)),
				zap.String("handle", req.Handle.Token()),
				zap.String("requester", string(req.Requester)),
				zap.Error(err))
			return
		}
		if err := target.DecryptCallback(req.Handle, plaintext); err != nil {
			r.log.Warn("decrypt callback rejected",
				zap.String("request_id", string(req.ID)),
				zap.String("handle", req.Handle.Token()),
				zap.Error(err))
		}
	}()
	return nil
}
