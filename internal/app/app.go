// Package app assembles the spatial pipeline and its surrounding services
// from settings and runs them until shutdown.
package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spatialpump/spatialpump/internal/api"
	"github.com/spatialpump/spatialpump/internal/conf"
	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/events"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/mqtt"
	"github.com/spatialpump/spatialpump/internal/observability"
	"github.com/spatialpump/spatialpump/internal/renderer/device"
	"github.com/spatialpump/spatialpump/internal/renderer/virtual"
	"github.com/spatialpump/spatialpump/internal/simulate"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

const (
	componentApp = "app"

	historySize         = 256
	busShutdownTimeout  = 2 * time.Second
	sentryFlushTimeout  = 2 * time.Second
	mqttConnectDeadline = 10 * time.Second
)

func getLogger() logger.Logger {
	return logger.Global().Module(componentApp)
}

// InitLogging installs the global logger described by settings.
func InitLogging(settings *conf.Settings) (*logger.CentralLogger, error) {
	settings.ApplyDebug()
	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, errors.New(err).
			Component(componentApp).
			Category(errors.CategoryConfiguration).
			Context("operation", "init_logging").
			Build()
	}
	logger.SetGlobal(cl)
	return cl, nil
}

// Services holds every running component. Fields for disabled components are nil.
type Services struct {
	Metrics   *observability.Metrics
	Bus       *events.EventBus
	History   *events.History
	Engine    *spatial.Engine
	Virtual   *virtual.Renderer
	MQTT      mqtt.Client
	API       *api.Server
	Simulator *simulate.Simulator

	log logger.Logger
}

// Build creates the components in dependency order. Nothing is started;
// on error everything built so far is released.
func Build(ctx context.Context, c *conf.Context) (svc *Services, err error) {
	s := c.Settings
	svc = &Services{log: getLogger()}
	defer func() {
		if err != nil {
			svc.Close()
			svc = nil
		}
	}()

	if svc.Metrics, err = observability.NewMetrics(); err != nil {
		return svc, err
	}

	if svc.Bus, err = events.NewEventBus(events.DefaultConfig()); err != nil {
		return svc, err
	}
	svc.History = events.NewHistory(historySize)
	if err = svc.Bus.RegisterConsumer(svc.History); err != nil {
		return svc, err
	}

	if s.MQTT.Enabled {
		if err = svc.connectMQTT(ctx, s); err != nil {
			return svc, err
		}
	}

	renderer, err := svc.buildRenderer(s)
	if err != nil {
		return svc, err
	}

	svc.Engine, err = spatial.NewEngine(SpatialConfig(s.Spatial), renderer,
		spatial.WithLogger(logger.Global().Module(spatial.ComponentSpatial)),
		spatial.WithMetrics(svc.Metrics.Spatial),
		spatial.WithEventPublisher(svc.Bus))
	if err != nil {
		return svc, err
	}

	if s.API.Enabled {
		opts := []api.ServerOption{
			api.WithHistory(svc.History),
			api.WithEventBus(svc.Bus),
			api.WithMetrics(svc.Metrics),
			api.WithVersion(c.Version),
		}
		if svc.Virtual != nil {
			opts = append(opts, api.WithCapacityController(svc.Virtual))
		}
		if svc.API, err = api.New(api.ConfigFromSettings(s), svc.Engine, opts...); err != nil {
			return svc, err
		}
	}

	if s.Simulate.Enabled {
		svc.Simulator, err = simulate.New(SimulateConfig(s), svc.Engine,
			simulate.WithLogger(logger.Global().Module("simulate")))
		if err != nil {
			return svc, err
		}
	}

	return svc, nil
}

func (svc *Services) buildRenderer(s *conf.Settings) (spatial.Renderer, error) {
	if s.Renderer.Type == conf.RendererDevice {
		return device.New(DeviceConfig(s))
	}
	r, err := virtual.New(VirtualConfig(s))
	if err != nil {
		return nil, err
	}
	svc.Virtual = r
	return r, nil
}

func (svc *Services) connectMQTT(ctx context.Context, s *conf.Settings) error {
	cfg := MQTTConfig(s)
	client, err := mqtt.NewClient(cfg, svc.Metrics.MQTT)
	if err != nil {
		return err
	}
	svc.MQTT = client

	connectCtx, cancel := context.WithTimeout(ctx, mqttConnectDeadline)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		// the event publisher retries on its next event
		svc.log.Warn("MQTT broker unavailable at startup",
			logger.String("broker", cfg.Broker),
			logger.Error(err))
	}

	publisher := mqtt.NewEventPublisher(client, cfg.Topic, cfg.PublishTimeout, svc.Metrics.MQTT)
	return svc.Bus.RegisterConsumer(publisher)
}

// Run starts the services and blocks until ctx ends or a simulator with a
// finite duration completes. Services are closed before Run returns.
func (svc *Services) Run(ctx context.Context) error {
	defer svc.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Engine.Start(ctx); err != nil {
		return err
	}
	if svc.API != nil {
		svc.API.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	if svc.Simulator != nil {
		g.Go(func() error {
			err := svc.Simulator.Run(gctx)
			if err == nil && gctx.Err() == nil {
				svc.log.Info("simulation finished", logger.Duration("elapsed", svc.Simulator.Elapsed()))
				cancel()
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close stops the services in reverse start order. It is safe on a
// partially built Services.
func (svc *Services) Close() {
	if svc.API != nil {
		if err := svc.API.Shutdown(); err != nil {
			svc.log.Warn("API shutdown failed", logger.Error(err))
		}
		svc.API = nil
	}
	if svc.Engine != nil {
		svc.Engine.Stop()
	}
	if svc.Virtual != nil {
		if err := svc.Virtual.Close(); err != nil {
			svc.log.Warn("virtual renderer close failed", logger.Error(err))
		}
	}
	if svc.Bus != nil {
		if err := svc.Bus.Shutdown(busShutdownTimeout); err != nil {
			svc.log.Warn("event bus shutdown incomplete", logger.Error(err))
		}
	}
	if svc.MQTT != nil {
		svc.MQTT.Disconnect()
		svc.MQTT = nil
	}
}

// Run builds the services from already loaded settings, enables error
// telemetry when configured and runs until ctx ends.
func Run(ctx context.Context, c *conf.Context) error {
	if c.Settings.Sentry.Enabled {
		if err := errors.InitSentry(c.Settings.Sentry.DSN, c.Version); err != nil {
			getLogger().Warn("error telemetry disabled", logger.Error(err))
		} else {
			defer errors.FlushSentry(sentryFlushTimeout)
		}
	}

	svc, err := Build(ctx, c)
	if err != nil {
		return err
	}

	getLogger().Info("spatialpump running",
		logger.String("version", c.Version),
		logger.String("renderer", c.Settings.Renderer.Type),
		logger.Bool("simulate", svc.Simulator != nil),
		logger.Bool("api", svc.API != nil),
		logger.Bool("mqtt", svc.MQTT != nil))

	return svc.Run(ctx)
}
