//go:build cgo

package backend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// sessionPool hands out PKCS#11 sessions for one slot with Acquire/Release
// semantics. Login is performed once, on the first session opened.
type sessionPool struct {
	mu        sync.Mutex
	ctx       *pkcs11.Ctx
	slotID    uint
	pin       string
	available []pkcs11.SessionHandle
	inUse     map[pkcs11.SessionHandle]bool
	loginDone bool
	closed    bool
}

// loadModule loads and initializes a PKCS#11 library, tolerating a module
// that is already initialized in this process.
func loadModule(modulePath string) (*pkcs11.Ctx, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("failed to load PKCS#11 module: %s", modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		if p11err, ok := err.(pkcs11.Error); !ok || p11err != pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED {
			ctx.Destroy()
			return nil, fmt.Errorf("failed to initialize PKCS#11 module: %w", err)
		}
	}
	return ctx, nil
}

func newSessionPool(ctx *pkcs11.Ctx, slotID uint, pin string) *sessionPool {
	return &sessionPool{
		ctx:    ctx,
		slotID: slotID,
		pin:    pin,
		inUse:  make(map[pkcs11.SessionHandle]bool),
	}
}

// Acquire reserves a session. The returned release function must be called
// when done.
func (p *sessionPool) Acquire() (pkcs11.SessionHandle, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, nil, fmt.Errorf("session pool is closed")
	}

	var session pkcs11.SessionHandle
	if n := len(p.available); n > 0 {
		session = p.available[n-1]
		p.available = p.available[:n-1]
	} else {
		var err error
		session, err = p.ctx.OpenSession(p.slotID, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to open session: %w", err)
		}

		// login is per-token, not per-session
		if p.pin != "" && !p.loginDone {
			if err := p.ctx.Login(session, pkcs11.CKU_USER, p.pin); err != nil {
				if e, ok := err.(pkcs11.Error); !ok || e != pkcs11.CKR_USER_ALREADY_LOGGED_IN {
					_ = p.ctx.CloseSession(session)
					return 0, nil, fmt.Errorf("failed to login: %w", err)
				}
			}
			p.loginDone = true
		}
	}

	p.inUse[session] = true

	release := func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		delete(p.inUse, session)
		if p.closed {
			_ = p.ctx.CloseSession(session)
			return
		}
		p.available = append(p.available, session)
	}

	return session, release, nil
}

// Close logs out, closes every session and finalizes the module.
func (p *sessionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error

	if p.loginDone && len(p.available) > 0 {
		if err := p.ctx.Logout(p.available[0]); err != nil {
			if e, ok := err.(pkcs11.Error); !ok || e != pkcs11.CKR_USER_NOT_LOGGED_IN {
				errs = append(errs, fmt.Errorf("logout: %w", err))
			}
		}
	}

	for _, session := range p.available {
		if err := p.ctx.CloseSession(session); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
	}
	for session := range p.inUse {
		if err := p.ctx.CloseSession(session); err != nil {
			errs = append(errs, fmt.Errorf("close in-use session: %w", err))
		}
	}
	p.available = nil

	if err := p.ctx.Finalize(); err != nil {
		if e, ok := err.(pkcs11.Error); !ok || e != pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED {
			errs = append(errs, fmt.Errorf("finalize: %w", err))
		}
	}
	p.ctx.Destroy()

	if len(errs) > 0 {
		return fmt.Errorf("errors closing session pool: %w", errors.Join(errs...))
	}
	return nil
}
