// Package engine wires the pf, hf and am layers into a single handle,
// each layer only ever seeing the one below it.
package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ryogrid/stonedb/am"
	"github.com/ryogrid/stonedb/hf"
	"github.com/ryogrid/stonedb/pf"
	"github.com/ryogrid/stonedb/stoneconfig"
)

// Engine composes the storage stack's three typed managers. It is not
// a singleton: callers construct one per open database and are free
// to run several independent Engines in the same process.
type Engine struct {
	PF  *pf.Manager
	HF  *hf.Manager
	AM  *am.Manager
	cfg stoneconfig.Config
	log *logrus.Entry
}

// New builds a disk-backed Engine from cfg, applying any pf.Options
// (a custom logger, eviction policy overrides) to the underlying
// pf.Manager.
func New(cfg stoneconfig.Config, opts ...pf.Option) *Engine {
	pfm := pf.NewManager(cfg, opts...)
	return &Engine{
		PF:  pfm,
		HF:  hf.NewManager(pfm),
		AM:  am.NewManager(pfm, cfg),
		cfg: cfg,
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
}

// NewMemory builds an Engine backed entirely by in-memory files, for
// tests and short-lived embedded use.
func NewMemory(cfg stoneconfig.Config, opts ...pf.Option) *Engine {
	pfm := pf.NewMemoryManager(cfg, opts...)
	return &Engine{
		PF:  pfm,
		HF:  hf.NewManager(pfm),
		AM:  am.NewManager(pfm, cfg),
		cfg: cfg,
		log: logrus.NewEntry(logrus.StandardLogger()),
	}
}

// IndexFileName is the conventional "<relation>.<indexNo>" name an
// index over relation's indexNo'th indexed attribute is stored under.
func IndexFileName(relation string, indexNo int) string {
	return fmt.Sprintf("%s.%d", relation, indexNo)
}

// CreateRelation creates relation's heap file.
func (e *Engine) CreateRelation(relation string) error {
	return e.HF.CreateFile(relation)
}

// CreateMemoryRelation is CreateRelation's in-memory counterpart.
func (e *Engine) CreateMemoryRelation(relation string) error {
	return e.HF.CreateMemoryFile(relation)
}

// CreateIndex creates a secondary index file for relation's indexNo'th
// indexed attribute.
func (e *Engine) CreateIndex(relation string, indexNo int, attrType am.AttrType, attrLength byte) error {
	return e.AM.CreateFile(IndexFileName(relation, indexNo), attrType, attrLength)
}

// CreateMemoryIndex is CreateIndex's in-memory counterpart.
func (e *Engine) CreateMemoryIndex(relation string, indexNo int, attrType am.AttrType, attrLength byte) error {
	return e.AM.CreateMemoryFile(IndexFileName(relation, indexNo), attrType, attrLength)
}

// Stats returns the shared buffer pool's activity counters, since all
// three layers route every page through the one pf.Manager.
func (e *Engine) Stats() pf.Stats { return e.PF.Stats() }
