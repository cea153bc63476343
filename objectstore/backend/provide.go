// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"time"

	"github.com/xmidt-org/lookout/objectstore"
	"github.com/xmidt-org/lookout/objectstore/inmem"
	"github.com/xmidt-org/lookout/objectstore/s3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultURLBase points in memory object URLs at the primary server's file
// proxy route.
const DefaultURLBase = "/api/v1/files"

// Config is the objectstore configuration key.
type Config struct {
	// Timeout bounds every backend call. Defaults to objectstore.DefaultTimeout.
	Timeout time.Duration

	// URLBase prefixes object URLs for the in memory backend. Defaults to
	// DefaultURLBase.
	URLBase string

	S3 *s3.Config
}

type SetupIn struct {
	fx.In
	Config   Config
	Measures objectstore.Measures
	LC       fx.Lifecycle
	Logger   *zap.Logger
}

func Provide() fx.Option {
	return fx.Options(
		objectstore.ProvideMetrics(),
		fx.Provide(
			SetupStore,
		),
	)
}

// SetupStore builds the configured backend and decorates it with
// instrumentation and call timeouts.
func SetupStore(in SetupIn) (objectstore.S, error) {
	var s objectstore.S
	if in.Config.S3 != nil {
		in.Logger.Info("using s3 object store implementation")
		s3Store, err := s3.NewS3(context.Background(), *in.Config.S3, in.Logger)
		if err != nil {
			return nil, err
		}
		in.LC.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := s3Store.EnsureBucket(ctx); err != nil {
					in.Logger.Error("failed to ensure bucket exists", zap.Error(err))
				}
				return nil
			},
		})
		s = s3Store
	} else {
		in.Logger.Info("using in memory object store implementation")
		urlBase := in.Config.URLBase
		if urlBase == "" {
			urlBase = DefaultURLBase
		}
		s = inmem.NewInMem(inmem.WithURLBase(urlBase))
	}
	return objectstore.WithTimeout(objectstore.Instrument(s, in.Measures), in.Config.Timeout), nil
}
