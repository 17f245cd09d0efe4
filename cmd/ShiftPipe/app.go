package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	_ "time/tzdata"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/ShiftPipe/internal/api"
	"github.com/BTreeMap/ShiftPipe/internal/dispatch"
	"github.com/BTreeMap/ShiftPipe/internal/engine"
	"github.com/BTreeMap/ShiftPipe/internal/lockfile"
	"github.com/BTreeMap/ShiftPipe/internal/messaging"
	"github.com/BTreeMap/ShiftPipe/internal/recovery"
	"github.com/BTreeMap/ShiftPipe/internal/regcode"
	"github.com/BTreeMap/ShiftPipe/internal/scheduler"
	"github.com/BTreeMap/ShiftPipe/internal/store"
	"github.com/BTreeMap/ShiftPipe/internal/twiliosms"
	"github.com/BTreeMap/ShiftPipe/internal/whatsapp"
)

// transport is the opened messaging transport. twilio is set only for the
// Twilio transport, whose webhooks the API mounts.
type transport struct {
	svc    messaging.Service
	twilio *messaging.TwilioService
	close  func()
}

// run wires every module and blocks until ctx is done or a component fails.
func run(ctx context.Context, config Config) error {
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}

	st, err := openStore(config)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("run: failed to close store", "error", err)
		}
	}()

	if err := regcode.Seed(ctx, st, config.SeedCodes); err != nil {
		return fmt.Errorf("seed registration codes: %w", err)
	}

	lookups := store.NewCachedLookups(st, config.CacheSize, config.CacheTTL)
	eng := engine.New(lookups,
		engine.WithLocation(loc),
		engine.WithCutoffHour(config.CutoffHour),
		engine.WithCodeRepository(st),
	)

	tr, err := openTransport(ctx, config)
	if err != nil {
		return err
	}
	defer tr.close()

	sendSvc := tr.svc
	if config.SendRate > 0 {
		sendSvc = messaging.NewRateLimitedService(tr.svc, config.SendRate, config.SendBurst)
		slog.Debug("run: outbound sends rate limited", "perSecond", config.SendRate, "burst", config.SendBurst)
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithLookups(lookups),
		dispatch.WithCoordinator(config.Coordinator),
	}
	if config.UseOutbox {
		dispatchOpts = append(dispatchOpts, dispatch.WithDeliverer(dispatch.NewOutboxDeliverer(st)))
	}
	d := dispatch.New(st, eng, sendSvc, dispatchOpts...)

	if err := tr.svc.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer func() {
		if err := tr.svc.Stop(); err != nil {
			slog.Error("run: failed to stop messaging service", "error", err)
		}
	}()

	sched := scheduler.NewScheduler()
	if err := sched.AddSweeps(ctx, config.SweepSchedule, d); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", config.SweepSchedule, err)
	}

	apiOpts := []api.Option{api.WithAddr(config.APIAddr)}
	if tr.twilio != nil {
		apiOpts = append(apiOpts, api.WithTwilio(tr.twilio))
	}
	server := api.NewServer(st, d, apiOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })

	rh := messaging.NewResponseHandler(tr.svc, d, st)
	rh.Start(gctx)
	g.Go(func() error {
		rh.Wait()
		return nil
	})

	rm := recovery.NewRecoveryManager()
	rm.RegisterRecoverable("expired_conversations", recovery.RecoverableFunc(d.CleanupExpired))
	rm.RegisterRecoverable("missed_reminders", recovery.RecoverableFunc(d.RemindPastDeadlines))
	var sender *store.OutboxSender
	if config.UseOutbox {
		sender = store.NewOutboxSender(st, dispatch.SendOutboxFunc(sendSvc), config.OutboxInterval)
		rm.RegisterRecoverable("outbox", recovery.ErrorOnly(sender.RecoverStaleMessages))
	}
	if _, err := rm.RecoverAll(ctx); err != nil {
		slog.Error("run: startup recovery incomplete", "error", err)
	}

	if sender != nil {
		g.Go(func() error {
			sender.Run(gctx)
			return nil
		})
	}

	slog.Info("ShiftPipe running", "transport", config.Transport, "addr", server.Addr(), "outbox", config.UseOutbox)
	err = g.Wait()
	d.Wait()
	return err
}

// openStore opens the application store for the configured DSN. An empty DSN
// selects the in-memory store.
func openStore(config Config) (store.Store, error) {
	dsn := config.DatabaseURL
	if dsn == "" {
		slog.Warn("openStore: no database DSN, using in-memory store; state is lost on exit")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("openStore: detected PostgreSQL DSN", "dsn_type", "postgresql")
		st, err := store.NewPostgresStore(store.WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	}
	slog.Debug("openStore: detected SQLite DSN", "db_path", dsn)
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return st, nil
}

// openTransport creates the configured messaging transport.
func openTransport(ctx context.Context, config Config) (*transport, error) {
	switch config.Transport {
	case TransportWhatsApp:
		var waOpts []whatsapp.Option
		if config.WhatsAppDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
		}
		if config.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QROutput))
		}
		if config.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, fmt.Errorf("create whatsapp client: %w", err)
		}
		return &transport{svc: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil

	case TransportTwilio:
		smsOpts := []twiliosms.Option{
			twiliosms.WithAccountSID(config.TwilioAccountSID),
			twiliosms.WithAuthToken(config.TwilioAuthToken),
			twiliosms.WithFrom(config.TwilioFrom),
		}
		if config.TwilioStatusCallback != "" {
			smsOpts = append(smsOpts, twiliosms.WithStatusCallback(config.TwilioStatusCallback))
		}
		client, err := twiliosms.NewClient(smsOpts...)
		if err != nil {
			return nil, fmt.Errorf("create twilio client: %w", err)
		}
		var svcOpts []messaging.TwilioOption
		if config.PublicURL != "" {
			svcOpts = append(svcOpts, messaging.WithSignatureValidation(config.TwilioAuthToken, config.PublicURL))
		} else {
			slog.Warn("openTransport: PUBLIC_URL not set, Twilio webhook signatures are not verified")
		}
		svc := messaging.NewTwilioService(client, svcOpts...)
		return &transport{svc: svc, twilio: svc, close: func() {}}, nil

	default:
		return nil, fmt.Errorf("unknown transport %q", config.Transport)
	}
}
