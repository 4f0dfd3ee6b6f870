package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nasa-jpl/golab-dmp40/dmp40"
	"github.com/nasa-jpl/golab-dmp40/server"
	"github.com/nasa-jpl/golab-dmp40/server/middleware/locker"
)

// BuildMux mounts the mirror under c.Endpoint behind a locker and adds the
// endpoint listing at /endpoints
func BuildMux(w dmp40.HTTPWrapper, c Config) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	l := locker.New()
	l.AllowReads = c.LockAllowsReads
	locker.Inject(w, l)
	sub := chi.NewRouter()
	sub.Use(l.Check)
	w.RT().Bind(sub)

	stem := server.SubMuxSanitize(c.Endpoint)
	root.Mount(stem, sub)
	root.Get("/endpoints", server.ListEndpoints(map[string]server.HTTPer{stem: w}))
	logrus.WithField("stem", stem).Info("mounted mirror")
	return root
}

// NewServeCommand returns the command that serves the mirror over HTTP
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the mirror and expose it over HTTP",
		RunE: func(_ *cobra.Command, _ []string) (err error) {
			drv, err := openDriver(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			if _, err = dmp40.Discover(drv); err != nil {
				return err
			}
			sess, info, err := dmp40.Connect(ctx, drv, cfg.Sequence)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := sess.Close(); cerr != nil && err == nil {
					err = pkgerrors.Wrap(cerr, "closing session")
				}
				logrus.Info("session closed")
			}()
			g, err := dmp40.QueryGeometry(sess)
			if err != nil {
				return err
			}
			dmp40.NewLogReporter().Geometry(g)

			w := dmp40.NewHTTPWrapper(sess, info, g, cfg.Sequence)
			srv := &http.Server{Addr: cfg.Addr, Handler: BuildMux(w, cfg)}
			go func() {
				<-ctx.Done()
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				if err := srv.Shutdown(sctx); err != nil {
					logrus.WithError(err).Error("shutting down")
				}
			}()
			logrus.WithField("addr", cfg.Addr).Info("now listening for requests")
			err = srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				err = nil
			}
			return err
		},
	}
	cmd.Flags().String("addr", ":8000", "listen address")
	return cmd
}
