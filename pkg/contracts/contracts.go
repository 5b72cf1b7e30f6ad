// Package contracts re-exports the interfaces embedding platforms implement
// or depend on, so they have one stable import surface without reaching into
// internal packages directly.
package contracts

import (
	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/cost"
	"github.com/forgeline/forgeline/internal/executor"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/internal/tools"
)

// Tool is the contract every callable operation implements.
type Tool = tool.Tool

// ToolFunc adapts a plain function into a Tool.
type ToolFunc = tool.Func

// Store is the combined persistence interface.
type Store = store.Store

// ChainStore persists reasoning chain snapshots.
type ChainStore = store.ChainStore

// CostStore persists individual cost records.
type CostStore = store.CostStore

// CostRecorder is the minimal sink the cost tracker needs.
type CostRecorder = cost.Recorder

// StepSink receives chain steps as they are appended during execution.
type StepSink = executor.StepSink

// SubAgentRunner executes a delegated task on its own chain.
type SubAgentRunner = tools.SubAgentRunner

// Snapshot is the serializable view of a reasoning chain.
type Snapshot = chain.Snapshot
