package main

import (
	"context"
	"io"

	"github.com/fwojciec/fetchgate"
)

// Dependencies holds all services and configuration for command execution.
type Dependencies struct {
	Ctx    context.Context
	Stdout io.Writer
	Stderr io.Writer
	Config *fetchgate.Config
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Config   string      `short:"c" type:"path" help:"Throttle configuration file (YAML)"`
	Check    CheckCmd    `cmd:"" help:"Validate a throttle configuration file"`
	Simulate SimulateCmd `cmd:"" help:"Run a synthetic workload through the admission gate"`
}

// CheckCmd is the "check" subcommand.
type CheckCmd struct{}

// SimulateCmd is the "simulate" subcommand.
type SimulateCmd struct {
	Requests    int      `short:"n" default:"100" help:"Number of requests to simulate"`
	Hosts       []string `short:"H" default:"a.example.com,b.example.com,c.example.org" help:"Hosts to spread requests across"`
	Workers     int      `short:"w" default:"8" help:"Concurrent workers feeding the gate"`
	BackoffRate float64  `default:"0.1" help:"Probability of a backoff-worthy response"`
	Seed        int64    `default:"1" help:"Random seed for reproducible runs"`
	Journal     string   `type:"path" help:"Record admissions and feedback to this SQLite file"`
	ByDomain    bool     `help:"Scope by registrable domain instead of full host"`
	Verbose     bool     `short:"v" help:"Log admission decisions"`
}
