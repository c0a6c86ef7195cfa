// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/openauthd/openauthd/pkg/authserver/authorize"
	"github.com/openauthd/openauthd/pkg/authserver/ciba"
	"github.com/openauthd/openauthd/pkg/authserver/client"
	"github.com/openauthd/openauthd/pkg/authserver/consent"
	"github.com/openauthd/openauthd/pkg/authserver/device"
	"github.com/openauthd/openauthd/pkg/authserver/grants"
	"github.com/openauthd/openauthd/pkg/authserver/handlers"
	"github.com/openauthd/openauthd/pkg/authserver/introspection"
	"github.com/openauthd/openauthd/pkg/authserver/keys"
	"github.com/openauthd/openauthd/pkg/authserver/logout"
	"github.com/openauthd/openauthd/pkg/authserver/session"
	"github.com/openauthd/openauthd/pkg/authserver/storage"
	"github.com/openauthd/openauthd/pkg/authserver/token"
	"github.com/openauthd/openauthd/pkg/logger"
)

// Server is the composed authorization server: storage, pipelines,
// engines, and the HTTP surface.
type Server struct {
	cfg    *Config
	store  storage.Store
	router http.Handler

	// Engines the host UI drives directly (approvals, logout).
	Sessions *session.Store
	Consents *consent.StoreProvider
	CIBA     *ciba.Engine
	Device   *device.Engine
	Logout   *logout.Orchestrator

	httpServer *http.Server
}

// Option overrides a composed collaborator, mainly for tests and for hosts
// bringing their own implementations.
type Option func(*composition)

type composition struct {
	clock   clockwork.Clock
	users   grants.UserAuthenticator
	claims  token.UserClaimsProvider
	store   storage.Store
	clients client.Provider
}

// WithClock substitutes the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *composition) { c.clock = clock }
}

// WithUserAuthenticator enables the password grant against the given
// credential store.
func WithUserAuthenticator(users grants.UserAuthenticator) Option {
	return func(c *composition) { c.users = users }
}

// WithUserClaimsProvider supplies userinfo claims for identity tokens.
func WithUserClaimsProvider(claims token.UserClaimsProvider) Option {
	return func(c *composition) { c.claims = claims }
}

// WithStore substitutes the key-value backend.
func WithStore(store storage.Store) Option {
	return func(c *composition) { c.store = store }
}

// WithClientProvider substitutes the client registry.
func WithClientProvider(clients client.Provider) Option {
	return func(c *composition) { c.clients = clients }
}

// New wires the server from configuration.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Server, error) {
	comp := &composition{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(comp)
	}

	store, err := buildStore(ctx, cfg, comp)
	if err != nil {
		return nil, err
	}
	kf := storage.NewKeyFactory(cfg.StorePrefix)

	clients, err := buildClients(cfg, comp)
	if err != nil {
		return nil, err
	}

	key, err := buildSigningKey(cfg)
	if err != nil {
		return nil, err
	}
	signer := keys.NewJoseSigner(key)

	registry := token.NewRegistry(store, kf, comp.clock)
	minter := token.NewMinter(token.MinterConfig{
		Issuer:       cfg.Issuer,
		PairwiseSalt: cfg.PairwiseSalt,
	}, signer, registry, comp.claims, comp.clock)
	codes := token.NewCodeStore(store, kf, comp.clock)

	sessions := session.NewStore(store, kf, cfg.SessionTTL)
	consents := consent.NewStoreProvider(store, kf, cfg.ConsentTTL, comp.clock)

	authorizePipeline := authorize.NewPipeline(sessions, consents, codes, minter, comp.clock)

	deviceLimiter := device.NewLimiter(store, kf, cfg.limiterConfig(), comp.clock)
	deviceEngine := device.NewEngine(store, kf, deviceLimiter, cfg.DeviceVerificationURI, comp.clock)

	// The CIBA engine and the token pipeline need each other: the pipeline
	// redeems auth_req_ids, push delivery mints through the pipeline.
	cibaEngine := ciba.NewEngine(store, kf, clients, nil, comp.clock)
	grantOpts := []grants.PipelineOption{
		grants.WithCIBARedeemer(cibaEngine),
		grants.WithDeviceRedeemer(deviceEngine),
	}
	if comp.users != nil {
		grantOpts = append(grantOpts, grants.WithUserAuthenticator(comp.users))
	}
	tokenPipeline := grants.NewPipeline(codes, minter, registry, signer, comp.clock, grantOpts...)
	cibaEngine.SetTokenIssuer(tokenPipeline)

	orchestrator := logout.NewOrchestrator(clients, sessions, minter, cfg.Issuer)
	introspector := introspection.NewService(signer, registry, comp.clock)
	par := handlers.NewPARStore(store, kf, comp.clock)

	router := handlers.NewRouter(handlers.Endpoints{
		Authorize: handlers.NewAuthorizeHandler(clients, authorizePipeline, par, handlers.AuthorizeConfig{
			SessionCookieName: cfg.SessionCookieName,
			LoginURL:          cfg.LoginURL,
			ConsentURL:        cfg.ConsentURL,
		}),
		Token:               handlers.NewTokenHandler(clients, tokenPipeline),
		Introspection:       handlers.NewIntrospectionHandler(clients, introspector),
		DeviceAuthorization: handlers.NewDeviceAuthorizationHandler(clients, deviceEngine),
		DeviceVerify:        handlers.NewDeviceVerifyHandler(deviceEngine),
		CIBA:                handlers.NewCIBAHandler(clients, cibaEngine),
		PAR:                 handlers.NewPARHandler(clients, par),
		Logout:              handlers.NewLogoutHandler(clients, sessions, orchestrator, cfg.SessionCookieName),
		Discovery: handlers.NewDiscoveryHandler(handlers.DiscoveryConfig{
			Issuer:           cfg.Issuer,
			ScopesSupported:  cfg.ScopesSupported,
			ACRValues:        cfg.ACRValues,
			SigningAlgorithm: key.Algorithm,
		}, key.JWKS()),
	})

	return &Server{
		cfg:      cfg,
		store:    store,
		router:   router,
		Sessions: sessions,
		Consents: consents,
		CIBA:     cibaEngine,
		Device:   deviceEngine,
		Logout:   orchestrator,
	}, nil
}

// Handler exposes the HTTP surface for hosts embedding the server in their
// own listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the context is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("authorization server listening", "addr", s.cfg.ListenAddr, "issuer", s.cfg.Issuer)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return s.store.Close()
}

// Close releases resources for servers that never ran.
func (s *Server) Close() error {
	return s.store.Close()
}

func buildStore(ctx context.Context, cfg *Config, comp *composition) (storage.Store, error) {
	if comp.store != nil {
		return comp.store, nil
	}
	if cfg.Redis.Addr == "" {
		logger.Warnw("no redis configured, using the in-memory store; state will not survive restarts")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewRedisStore(ctx, storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func buildClients(cfg *Config, comp *composition) (client.Provider, error) {
	if comp.clients != nil {
		return comp.clients, nil
	}

	registrations := make([]*client.Client, 0, len(cfg.Clients))
	for i := range cfg.Clients {
		c := cfg.Clients[i].Client
		if secret := cfg.Clients[i].Secret; secret != "" {
			hash, err := client.HashSecret(secret)
			if err != nil {
				return nil, fmt.Errorf("client %s: hash secret: %w", c.ID, err)
			}
			c.SecretHash = hash
		}
		registrations = append(registrations, &c)
	}
	return client.NewStaticProvider(registrations)
}

func buildSigningKey(cfg *Config) (*keys.SigningKey, error) {
	if cfg.SigningKeyFile == "" {
		logger.Warnw("no signing key configured, generating an ephemeral key; tokens will not survive restarts",
			"algorithm", cfg.SigningAlgorithm)
		return keys.Generate(cfg.SigningAlgorithm)
	}

	key, err := keys.LoadFromFile(cfg.SigningKeyFile, "", cfg.SigningAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	return key, nil
}
