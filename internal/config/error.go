// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"github.com/shardroute/dbproxy/pkg/coderr"
)

var (
	ErrInvalidCommandArgs = coderr.NewCodeError(coderr.BadRequest, "invalid command arguments")
	ErrInvalidDuration    = coderr.NewCodeError(coderr.BadRequest, "invalid duration value")
	ErrInvalidConfigFile  = coderr.NewCodeError(coderr.BadRequest, "invalid config file")
)
