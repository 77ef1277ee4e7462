package main

import (
	"context"
	"fmt"

	"github.com/termstream/termstream/internal/channel"
	"github.com/termstream/termstream/internal/config"
	"github.com/termstream/termstream/internal/ws"
)

// sourceFactory opens byte sources for the modes the config supports. ssh
// needs ssh.host set; local is always available on unix.
func sourceFactory(cfg *config.Config) ws.SourceFactory {
	return func(ctx context.Context, mode string) (channel.Source, error) {
		switch mode {
		case "mock":
			opts := []channel.MockOption{
				channel.WithLatency(cfg.Mock.Latency, cfg.Mock.Jitter, cfg.Mock.Seed),
				channel.WithIdentity(cfg.Mock.User, cfg.Mock.Host, cfg.Mock.Home),
				channel.WithMockPollTimeout(cfg.Stream.ReadTimeout),
			}
			if cfg.Mock.Fragment {
				opts = append(opts, channel.WithFragmentation(cfg.Mock.Seed))
			}
			return channel.NewMockShell(opts...), nil

		case "ssh":
			if cfg.SSH.Host == "" {
				return nil, fmt.Errorf("%w: ssh (ssh.host not configured)", ws.ErrUnknownMode)
			}
			return channel.DialSSH(ctx, channel.SSHConfig{
				Host:        cfg.SSH.Host,
				Port:        cfg.SSH.Port,
				User:        cfg.SSH.User,
				Password:    cfg.SSH.Password,
				KeyFile:     cfg.SSH.KeyFile,
				KnownHosts:  cfg.SSH.KnownHosts,
				Term:        cfg.SSH.Term,
				Cols:        cfg.SSH.Cols,
				Rows:        cfg.SSH.Rows,
				DialTimeout: cfg.SSH.DialTimeout,
			}, channel.WithPollTimeout(cfg.Stream.ReadTimeout))

		case "local":
			return channel.StartLocal(channel.LocalConfig{
				Shell: cfg.Local.Shell,
				Args:  cfg.Local.Args,
				Dir:   cfg.Local.Dir,
			}, channel.WithPollTimeout(cfg.Stream.ReadTimeout))
		}
		return nil, fmt.Errorf("%w: %q", ws.ErrUnknownMode, mode)
	}
}
