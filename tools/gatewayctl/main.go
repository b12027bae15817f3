// Command gatewayctl sends one request through a gateway configured from the environment
// and prints the response body or the normalized error.
//
//	gatewayctl [-email x -password y [-role creator]] [-offline] METHOD PATH [BODY]
//
// Connectivity is fed by the realtime channel when SOCKET_URL is set, otherwise by a HEAD
// probe of API_URL every PROBE_INTERVAL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/gateway/api"
	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/config"
	"github.com/relabs-tech/gateway/core/gateway"
	"github.com/relabs-tech/gateway/core/kvstore"
	"github.com/relabs-tech/gateway/core/logger"
	"github.com/relabs-tech/gateway/core/realtime"
	"github.com/relabs-tech/gateway/core/syncer"
)

var (
	email    = flag.String("email", "", "log in with this email before the request")
	password = flag.String("password", "", "password for -email")
	role     = flag.String("role", "", "login surface: admin, creator or member")
	offline  = flag.Bool("offline", false, "start offline until the realtime channel or the probe reports the API reachable")
	noCache  = flag.Bool("no-cache", false, "do not use the response cache")
	noQueue  = flag.Bool("no-queue", false, "do not queue the request while offline")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] METHOD PATH [BODY]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(context.Background(), flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cannot load configuration: %w", err)
	}
	logger.InitLogger(logger.ParseLevel(cfg.LogLevel))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, rlog := logger.ContextWithLogger(ctx)

	store, err := kvstore.New(ctx, cfg.Store())
	if err != nil {
		return fmt.Errorf("cannot open store: %w", err)
	}
	registrar, err := syncer.New(ctx, syncer.Configuration{
		Driver:       syncer.Driver(cfg.SyncDriver),
		KafkaBrokers: cfg.Brokers(),
		Topic:        cfg.SyncTopic,
		SQSQueueURL:  cfg.SQSQueueURL,
		AWSRegion:    cfg.AWSRegion,
		AMQPURL:      cfg.AMQPURL,
		AMQPExchange: cfg.AMQPExchange,
	})
	if err != nil {
		return fmt.Errorf("cannot create sync registrar: %w", err)
	}
	if c, ok := registrar.(io.Closer); ok {
		defer c.Close()
	}

	connectivity := gateway.NewConnectivity(!*offline)
	gw, err := gateway.New(ctx, &gateway.Builder{
		BaseURL:      cfg.APIURL,
		Store:        store,
		Timeout:      cfg.RequestTimeout,
		CacheTTL:     cfg.CacheTTL,
		RefreshPath:  cfg.RefreshPath,
		Timezone:     cfg.Timezone,
		Connectivity: connectivity,
		Registrar:    registrar,
		Device: gateway.Device{
			Width:      cfg.DeviceWidth,
			Height:     cfg.DeviceHeight,
			PixelRatio: cfg.DevicePixelRatio,
			Standalone: cfg.DeviceStandalone,
		},
		OnLogout: func(ctx context.Context, loginPath string) {
			logger.FromContext(ctx).Warnf("logged out, sign in again at %s", loginPath)
		},
	})
	if err != nil {
		return err
	}

	if *email != "" {
		if _, err := api.New(gw).Auth.Login(ctx, access.ParseRole(*role), *email, *password); err != nil {
			return describe(err)
		}
	}

	req := &gateway.Request{
		Method:  strings.ToUpper(args[0]),
		URL:     args[1],
		NoCache: *noCache,
		NoQueue: *noQueue,
	}
	if len(args) > 2 {
		req.Body = []byte(args[2])
	}

	if cfg.SocketURL != "" {
		rt := realtime.New(&realtime.Builder{
			URL:    cfg.SocketURL,
			Tokens: gw.Session(),
			Status: connectivity,
		})
		rt.Handle("*", func(ctx context.Context, m realtime.Message) {
			logger.FromContext(ctx).Debugf("realtime event %s: %s", m.Event, m.Data)
		})
		go rt.Run(ctx)
	} else {
		go connectivity.Probe(ctx, http.DefaultClient, cfg.APIURL, cfg.ProbeInterval)
	}
	if *offline {
		rlog.Infoln("starting offline, the request is queued until the API is reachable")
	}

	res, err := gw.Do(ctx, req)
	if err != nil {
		return describe(err)
	}
	rlog.WithField("status", res.Status).WithField("fromCache", res.FromCache).Debug("done")
	if len(res.Body) > 0 {
		out.Write(res.Body)
		fmt.Fprintln(out)
	}
	return nil
}

func describe(err error) error {
	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		return err
	}
	body, _ := json.MarshalIndent(gerr, "", "  ")
	return fmt.Errorf("%s\n%s", gerr.Kind, body)
}
