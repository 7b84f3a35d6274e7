// Package app wires the daemon's components together: one transport,
// one mux, four logical channels (IAM open/secure, CM open/secure),
// their bridges, two pairs of gRPC stream supervisors, and the CM
// interceptor actions. The secure channels each carry a server-mode
// mTLS session layered on the logical channel itself; the host side
// initiates the handshake.
package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aosedge/aos-messageproxy/internal/aosproto"
	"github.com/aosedge/aos-messageproxy/internal/bridge"
	"github.com/aosedge/aos-messageproxy/internal/certprovider"
	"github.com/aosedge/aos-messageproxy/internal/channel"
	"github.com/aosedge/aos-messageproxy/internal/config"
	"github.com/aosedge/aos-messageproxy/internal/downloader"
	"github.com/aosedge/aos-messageproxy/internal/interceptor"
	"github.com/aosedge/aos-messageproxy/internal/logger"
	"github.com/aosedge/aos-messageproxy/internal/mux"
	"github.com/aosedge/aos-messageproxy/internal/shutdown"
	"github.com/aosedge/aos-messageproxy/internal/supervisor"
	"github.com/aosedge/aos-messageproxy/internal/tlschannel"
	"github.com/aosedge/aos-messageproxy/internal/transport"
)

// Mode mirrors config.Mode, re-exported so callers of this package
// don't need to import internal/config just to pick a mode.
type Mode = config.Mode

const (
	ModeNormal       = config.ModeNormal
	ModeProvisioning = config.ModeProvisioning
)

// sessionRetryDelay paces re-establishing a failed channel session
// (plaintext pump restart or a fresh mTLS handshake).
const sessionRetryDelay = 3 * time.Second

// App owns every long-lived component and is the shutdown tree root.
type App struct {
	shutdown.Helper

	cfg  *config.Config
	mode Mode
	log  *logger.Logger
	dl   *downloader.Downloader
	cp   *certprovider.FileProvider

	m *mux.Mux

	supervisors []*supervisor.Supervisor
	bridges     []*bridge.Bridge
	pumps       []func()
}

// New builds the full component graph from cfg and t, the already
// constructed byte transport. The concrete vChan ring is an external
// collaborator, so callers construct t themselves (see
// internal/transport/vchan and internal/transport/tcp) and hand it in
// here.
func New(cfg *config.Config, mode Mode, t transport.Transport, log *logger.Logger) (*App, error) {
	a := &App{cfg: cfg, mode: mode, log: log.Fork("app")}
	a.Helper.Init(a)
	a.cp = certprovider.NewFileProvider(a.log)
	a.dl = downloader.New(downloader.Config{
		RetryDelay:    cfg.Download.RetryDelay.Duration(),
		MaxRetryDelay: cfg.Download.MaxRetryDelay.Duration(),
		MaxAttempts:   5,
		MaxConcurrent: cfg.Download.MaxConcurrentDownloads,
	}, a.log)

	a.m = mux.New(t, mux.DefaultConfig(), a.log)
	a.AddChild(&a.m.Helper)

	if err := a.wireIAM(); err != nil {
		return nil, fmt.Errorf("app: wiring IAM channels: %w", err)
	}
	if err := a.wireCM(); err != nil {
		return nil, fmt.Errorf("app: wiring CM channels: %w", err)
	}
	return a, nil
}

// wirePair registers one logical channel, builds its Bridge and
// supervisor with the circular handler<->bridge wiring resolved via
// Bridge.SetStream, and records a pump loop for Run to start. A secure
// channel gets a fresh server-mode mTLS session layered over the
// logical channel on each pump iteration.
func (a *App) wirePair(name string, port uint32, target, method string, secure bool, certType, certStorage string, creds supervisor.CredentialSource, direction bridge.Direction, decode func([]byte) (string, error)) (*bridge.Bridge, *supervisor.Supervisor, error) {
	ch, err := a.m.RegisterChannel(port)
	if err != nil {
		return nil, nil, err
	}
	br := bridge.New(name, ch, nil, direction, nil, a.log)
	handler := &bridgeHandler{bridge: br, decode: decode, log: a.log.Fork(name)}
	sup := supervisor.New(supervisor.DefaultConfig(target, method), creds, handler, a.log)
	br.SetStream(sup)

	session := func() bridge.Channel { return ch }
	if secure {
		if certStorage == "" {
			return nil, nil, fmt.Errorf("app: %s: no certificate storage configured for secure channel", name)
		}
		tlsCfg := a.serverTLSConfig(certType, certStorage)
		session = func() bridge.Channel { return tlschannel.Server(ch, name, tlsCfg) }
	}

	a.bridges = append(a.bridges, br)
	a.supervisors = append(a.supervisors, sup)
	a.pumps = append(a.pumps, func() { a.runPump(name, ch, br, session) })
	return br, sup, nil
}

// runPump drives one bridge's channel->stream leg until the channel or
// the app shuts down, re-establishing the session (for secure channels,
// a fresh mTLS handshake) after each failure.
func (a *App) runPump(name string, ch *channel.Channel, br *bridge.Bridge, session func() bridge.Channel) {
	for !a.IsStarted() && !ch.IsStarted() {
		br.SetChannel(session())
		if err := br.PumpChannelToStream(); err != nil {
			a.log.Warnf("%s: channel session ended: %s", name, err)
		}
		select {
		case <-time.After(sessionRetryDelay):
		case <-a.DoneChan():
			return
		}
	}
}

// serverTLSConfig builds the tls.Config for one secure channel. The
// certificate material is resolved lazily, per handshake, so a renewed
// certificate is picked up without restarting the daemon and so the
// daemon can start before provisioning has populated the slot.
func (a *App) serverTLSConfig(certType, certStorage string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequireAndVerifyClientCert,
		GetConfigForClient: func(*tls.ClientHelloInfo) (*tls.Config, error) {
			return a.cp.GetMTLSConfig(context.Background(), certType, certStorage, a.cfg.CACert)
		},
	}
}

func (a *App) wireIAM() error {
	creds := a.credentialSource("iam", a.iamCertStorage())
	const method = "/aos.IAMService/RegisterNode"

	if _, _, err := a.wirePair("iam-open", a.cfg.IAMConfig.OpenPort, a.cfg.IAMConfig.PublicServerURL, method, false, "", "", creds, bridge.DirectionForwardOnly, decodeIAMMethod); err != nil {
		return err
	}

	if a.mode == ModeProvisioning {
		a.log.Infof("provisioning mode: skipping IAM secure channel")
		return nil
	}
	_, _, err := a.wirePair("iam-secure", a.cfg.IAMConfig.SecurePort, a.cfg.IAMConfig.ProtectedServerURL, method, true, "iam", a.wrapperCertStorage(a.cfg.VChan.IAMCertStorage), creds, bridge.DirectionForwardOnly, decodeIAMMethod)
	return err
}

func (a *App) wireCM() error {
	creds := a.credentialSource("sm", a.cfg.CertStorage)
	const method = "/aos.CMService/RegisterSM"

	// ClockSyncRequest arrives on the CM open channel, so the open
	// bridge intercepts it; ImageContentRequest arrives on the secure
	// channel and is handled by a separate interceptor below.
	openBr, _, err := a.wirePair("cm-open", a.cfg.CMConfig.OpenPort, a.cfg.CMConfig.ServerURL, method, false, "", "", creds, bridge.DirectionIntercept, decodeCMMethod)
	if err != nil {
		return err
	}
	openBr.SetInterceptor(&clockSyncInterceptor{
		replier: &bridgeReplier{br: openBr},
		log:     a.log.Fork("cm-open-interceptor"),
	})

	if a.mode == ModeProvisioning {
		a.log.Infof("provisioning mode: skipping CM secure channel")
		return nil
	}

	secureBr, _, err := a.wirePair("cm-secure", a.cfg.CMConfig.SecurePort, a.cfg.CMConfig.ServerURL, method, true, "sm", a.wrapperCertStorage(a.cfg.VChan.SMCertStorage), creds, bridge.DirectionIntercept, decodeCMMethod)
	if err != nil {
		return err
	}
	secureBr.SetInterceptor(&imageContentInterceptor{
		replier: &bridgeReplier{br: secureBr},
		dl:      a.dl,
		cfg:     interceptor.ImageContentConfig{StoreDir: a.cfg.ImageStoreDir},
		log:     a.log.Fork("cm-secure-interceptor"),
	})
	return nil
}

func (a *App) credentialSource(certType, storage string) supervisor.CredentialSource {
	if a.mode == ModeProvisioning {
		return insecureCreds{}
	}
	return &mtlsCreds{cp: a.cp, certType: certType, storage: storage, caCertFile: a.cfg.CACert}
}

func (a *App) iamCertStorage() string {
	if a.cfg.IAMConfig.CertStorage != "" {
		return a.cfg.IAMConfig.CertStorage
	}
	return a.cfg.CertStorage
}

// wrapperCertStorage resolves a secure channel's certificate slot,
// falling back to the daemon-wide default slot when the vChan block
// doesn't name one.
func (a *App) wrapperCertStorage(specific string) string {
	if specific != "" {
		return specific
	}
	return a.cfg.CertStorage
}

func decodeIAMMethod(data []byte) (string, error) {
	env, err := aosproto.UnmarshalIAMEnvelope(data)
	if err != nil {
		return "", err
	}
	return env.Case.String(), nil
}

func decodeCMMethod(data []byte) (string, error) {
	env, err := aosproto.UnmarshalCMEnvelope(data)
	if err != nil {
		return "", err
	}
	return env.Case.String(), nil
}

type insecureCreds struct{}

func (insecureCreds) DialOptions(context.Context) ([]grpc.DialOption, error) {
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

type mtlsCreds struct {
	cp         *certprovider.FileProvider
	certType   string
	storage    string
	caCertFile string
}

func (m *mtlsCreds) DialOptions(ctx context.Context) ([]grpc.DialOption, error) {
	tlsCfg, err := m.cp.GetMTLSConfig(ctx, m.certType, m.storage, m.caCertFile)
	if err != nil {
		return nil, err
	}
	return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}, nil
}

// bridgeHandler adapts a bridge.Bridge to supervisor.Handler: each
// inbound stream message is decoded just far enough to get a method
// name for the inner header, then handed to the bridge unchanged.
type bridgeHandler struct {
	bridge *bridge.Bridge
	decode func([]byte) (string, error)
	log    *logger.Logger
}

func (h *bridgeHandler) OnConnected(context.Context) { h.log.Infof("connected") }
func (h *bridgeHandler) OnDisconnected(err error)    { h.log.Warnf("disconnected: %v", err) }
func (h *bridgeHandler) HandleIncoming(data []byte) {
	method := "unknown"
	if h.decode != nil {
		if name, err := h.decode(data); err == nil {
			method = name
		}
	}
	if err := h.bridge.ForwardToChannel(method, data); err != nil {
		h.log.Warnf("handling inbound message: %s", err)
	}
}

// bridgeReplier sends an interceptor action's reply back out on the
// same channel the request arrived on, inner-framed like any other
// message. For the secure bridge this goes through the live mTLS
// session.
type bridgeReplier struct {
	br *bridge.Bridge
}

func (r *bridgeReplier) Reply(methodName string, env *aosproto.CMEnvelope) error {
	b, err := env.Marshal()
	if err != nil {
		return err
	}
	return r.br.ForwardToChannel(methodName, b)
}

// clockSyncInterceptor implements bridge.Interceptor for the CM open
// channel: ClockSyncRequest is the only host-originated case handled
// locally there; every other case is forwarded.
type clockSyncInterceptor struct {
	replier *bridgeReplier
	log     *logger.Logger
}

func (i *clockSyncInterceptor) Intercept(_ string, payload []byte) (bool, error) {
	env, err := aosproto.UnmarshalCMEnvelope(payload)
	if err != nil {
		i.log.Warnf("dropping unparsable message: %s", err)
		return true, nil
	}
	if env.Case != aosproto.CaseClockSyncRequest {
		return false, nil
	}
	return true, interceptor.ClockSync(i.replier)
}

// imageContentInterceptor implements bridge.Interceptor for the CM
// secure channel: ImageContentRequest is the only host-originated case
// handled locally there; every other case is forwarded. The download/
// unpack/chunk pipeline runs on its own goroutine so the bridge keeps
// draining other messages meanwhile.
type imageContentInterceptor struct {
	replier *bridgeReplier
	dl      *downloader.Downloader
	cfg     interceptor.ImageContentConfig
	log     *logger.Logger
}

func (i *imageContentInterceptor) Intercept(_ string, payload []byte) (bool, error) {
	env, err := aosproto.UnmarshalCMEnvelope(payload)
	if err != nil {
		i.log.Warnf("dropping unparsable message: %s", err)
		return true, nil
	}
	if env.Case != aosproto.CaseImageContentRequest {
		return false, nil
	}
	go func() {
		if err := interceptor.ImageContent(context.Background(), i.cfg, i.dl, env.ImageContentRequest, i.replier, i.log); err != nil {
			i.log.Warnf("image content handling failed: %s", err)
		}
	}()
	return true, nil
}

// Run starts the mux, the bridge pumps, and every supervisor, and
// blocks until ctx is canceled or shutdown is requested.
func (a *App) Run(ctx context.Context) {
	go a.m.Run()
	for _, pump := range a.pumps {
		go pump()
	}
	for _, s := range a.supervisors {
		go s.Run(ctx)
	}
	select {
	case <-ctx.Done():
	case <-a.DoneChan():
	}
}

// HandleShutdown implements shutdown.Handler; supervisors take a
// context rather than joining the shutdown tree directly (their gRPC
// streams are canceled via context), so they are closed explicitly
// here.
func (a *App) HandleShutdown(_ error) error {
	for _, s := range a.supervisors {
		_ = s.Close()
	}
	return nil
}
