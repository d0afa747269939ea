package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/braydio/Override-RSA/internal/config"
	"github.com/braydio/Override-RSA/internal/entity"
	"github.com/braydio/Override-RSA/internal/infrastructure"
	"github.com/braydio/Override-RSA/internal/notify"
	"github.com/braydio/Override-RSA/internal/repository"
	"github.com/braydio/Override-RSA/internal/service/broker"
	"github.com/braydio/Override-RSA/internal/session"
	"github.com/sirupsen/logrus"
)

type operation func(ctx context.Context) error

// gracefulShutdown waits for termination syscalls and runs the clean up
// operations after receiving one.
func gracefulShutdown(ctx context.Context, timeout time.Duration, ops map[string]operation) <-chan struct{} {
	wait := make(chan struct{})
	go func() {
		s := make(chan os.Signal, 1)

		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-s

		logrus.Info("shutting down")

		// set timeout for the ops to be done to prevent system hang
		timeoutFunc := time.AfterFunc(timeout, func() {
			logrus.Error(fmt.Sprintf("timeout %d ms has been elapsed, force exit", timeout.Milliseconds()))
			os.Exit(0)
		})

		defer timeoutFunc.Stop()

		var wg sync.WaitGroup

		for key, op := range ops {
			wg.Add(1)
			innerOp := op
			innerKey := key
			go func() {
				defer wg.Done()

				logrus.Info(fmt.Sprintf("cleaning up: %s", innerKey))
				if err := innerOp(ctx); err != nil {
					logrus.Error(fmt.Sprintf("%s: clean up failed: %s", innerKey, err.Error()))
					return
				}

				logrus.Info(fmt.Sprintf("%s was shutdown gracefully", innerKey))
			}()
		}

		wg.Wait()

		close(wait)
	}()

	return wait
}

// runtime holds the shared pieces every entry point assembles: the
// session store, the fan-out notifier, and the cleanup operations for
// whatever optional backends were configured.
type runtime struct {
	store    session.Store
	notifier entity.Notifier
	cleanup  map[string]operation
}

// buildRuntime assembles the session store and notifier stack. The
// journal database and the order-event stream are both optional; they
// join the notifier fan-out only when configured.
func buildRuntime(ctx context.Context, extra ...entity.Notifier) (*runtime, error) {
	store, err := newSessionStore()
	if err != nil {
		return nil, err
	}

	notifiers := []entity.Notifier{notify.NewConsole()}
	notifiers = append(notifiers, extra...)
	cleanup := make(map[string]operation)

	if journalCfg, ok := config.Env.Database["journal"]; ok && journalCfg.DSN != "" {
		db, err := infrastructure.NewPostgresConnection(ctx, journalCfg)
		if err != nil {
			return nil, err
		}

		notifiers = append(notifiers, notify.NewJournal(repository.NewOrderOutcomeRepository(db)))
		cleanup["journal database"] = func(ctx context.Context) error {
			return db.Close()
		}
	}

	if config.Env.NatsJetstream.URL != "" {
		nc, js, err := infrastructure.NewJetstream()
		if err != nil {
			return nil, err
		}

		jsNotifier, err := notify.NewJetstream(js)
		if err != nil {
			_ = infrastructure.CloseJetstream(nc)
			return nil, err
		}

		notifiers = append(notifiers, jsNotifier)
		cleanup["nats connection"] = func(ctx context.Context) error {
			return infrastructure.CloseJetstream(nc)
		}
	}

	return &runtime{
		store:    store,
		notifier: notify.NewMulti(notifiers...),
		cleanup:  cleanup,
	}, nil
}

// close runs the cleanup operations synchronously, for the one-shot CLI
// commands that don't sit behind gracefulShutdown.
func (r *runtime) close(ctx context.Context) {
	for key, op := range r.cleanup {
		if err := op(ctx); err != nil {
			logrus.Errorf("%s: clean up failed: %v", key, err)
		}
	}
}

func newSessionStore() (session.Store, error) {
	if redisCfg, ok := config.Env.Redis["sessions"]; ok && redisCfg.CacheDSN != "" {
		return session.NewRedisStore(redisCfg.CacheDSN)
	}
	return session.NewFileStore(config.Env.CredentialsDir)
}

// registerBrokers wires every adapter into the global registry. The
// registration order here is the dispatch order of the "all" token.
func registerBrokers(store session.Store, otp entity.OTPProvider) {
	broker.InitAllyBroker()
	broker.InitFennelBroker(store, otp)
	broker.InitFidelityBroker()
	broker.InitRobinhoodBroker(store)
	broker.InitSchwabBroker(store)
	broker.InitTradierBroker()
	broker.InitWebullBroker()
}

// stdinOTP prompts on the terminal for one-time codes during CLI runs.
type stdinOTP struct{}

func (stdinOTP) WaitForCode(ctx context.Context, identityName string, timeout time.Duration) (string, error) {
	fmt.Printf("%s: enter one-time code: ", identityName)

	type result struct {
		code string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		ch <- result{code: trimLine(line), err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return "", r.err
		}
		if r.code == "" {
			return "", fmt.Errorf("no code entered for %s", identityName)
		}
		return r.code, nil
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for code for %s", identityName)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func trimLine(line string) string {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
