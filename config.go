// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package ingest

import (
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sassoftware/viya-pdf-ingest/logger"
)

type ParsingMode string

const (
	Strict     ParsingMode = "strict"
	BestEffort ParsingMode = "best-effort"
)

type Config struct {
	// Workers bounds the goroutines materializing objects of one document.
	Workers int `validate:"min=1,max=64"`
	// FooterScanLimit is the size of the trailing window searched for
	// %%EOF and startxref.
	FooterScanLimit int `validate:"min=32,max=65536"`
	// HeaderScanLimit is the size of the leading window searched for the
	// version header.
	HeaderScanLimit int `validate:"min=16,max=65536"`

	MaxConcurrentDocuments int           `validate:"min=1,max=16"`
	LoadTimeout            time.Duration `validate:"required"`
	ParsingMode            ParsingMode   `validate:"oneof=strict best-effort"`
	MaxRetries             int           `validate:"min=0,max=3"`
	DebugOn                bool
	Logger                 logger.LogFunc
}

func NewDefaultConfig() *Config {
	return &Config{
		Workers:                min(max(runtime.NumCPU(), 1), 64),
		FooterScanLimit:        1024,
		HeaderScanLimit:        1024,
		MaxConcurrentDocuments: 4,
		LoadTimeout:            30 * time.Second,
		ParsingMode:            BestEffort,
		MaxRetries:             0,
		DebugOn:                false,
	}
}

func (cfg *Config) Validate() error {
	logger.Debug("Validating Config Object")
	validate := validator.New()
	return validate.Struct(cfg)
}

// apply installs the configured logger.
func (cfg *Config) apply() {
	if cfg.Logger != nil {
		logger.SetLogger(cfg.Logger)
	}
}

type loadOptions struct {
	cfg       *Config
	passwords PasswordProvider
	decoder   FilterDecoder
	workers   int
}

// Option configures a single document load.
type Option func(*loadOptions)

// WithConfig replaces the default configuration.
func WithConfig(cfg *Config) Option {
	return func(o *loadOptions) { o.cfg = cfg }
}

// WithPasswordProvider supplies passwords after the empty password is rejected.
func WithPasswordProvider(pp PasswordProvider) Option {
	return func(o *loadOptions) { o.passwords = pp }
}

// WithPassword is WithPasswordProvider(StaticPasswords(pw)).
func WithPassword(pw string) Option {
	return WithPasswordProvider(StaticPasswords(pw))
}

// WithFilterDecoder replaces StandardFilters for stream decoding.
func WithFilterDecoder(dec FilterDecoder) Option {
	return func(o *loadOptions) { o.decoder = dec }
}

// WithWorkers overrides Config.Workers.
func WithWorkers(n int) Option {
	return func(o *loadOptions) { o.workers = n }
}

func resolveOptions(opts []Option) (*loadOptions, error) {
	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = NewDefaultConfig()
	}
	if o.workers > 0 {
		cfg := *o.cfg
		cfg.Workers = o.workers
		o.cfg = &cfg
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	o.cfg.apply()
	if o.decoder == nil {
		o.decoder = StandardFilters{}
	}
	return o, nil
}
