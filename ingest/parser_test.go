package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingParser counts calls and returns canned results.
type recordingParser struct {
	boxDataCalls int
	fileCalls    []string
	boxData      BoxData
	fileResult   *DataFile
}

func (p *recordingParser) ParseBoxData(_ context.Context, _ Experiment, _ StorageBox, _ *ArchiveStorage) (BoxData, error) {
	p.boxDataCalls++
	return p.boxData, nil
}

func (p *recordingParser) ParseFile(_ context.Context, req FileParseRequest) (*DataFile, error) {
	p.fileCalls = append(p.fileCalls, req.Path)
	return p.fileResult, nil
}

func TestRegistry_ForNamespace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Parsers = map[string]string{
		"http://example.org/schema/tomo": "tomo",
	}
	reg := NewRegistry(cfg)

	// Configured but not registered yet.
	assert.Nil(t, reg.ForNamespace("http://example.org/schema/tomo"))

	p := &recordingParser{}
	reg.Register("tomo", p)
	assert.Same(t, Parser(p), reg.ForNamespace("http://example.org/schema/tomo"))

	// Unconfigured namespace means default ingestion.
	assert.Nil(t, reg.ForNamespace("http://example.org/schema/other"))
}

func TestRegistry_Namespaces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Parsers = map[string]string{
		"http://example.org/schema/b": "b",
		"http://example.org/schema/a": "a",
	}
	reg := NewRegistry(cfg)
	assert.Equal(t,
		[]string{"http://example.org/schema/a", "http://example.org/schema/b"},
		reg.Namespaces())
}

func TestRegistry_ForExperiment(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	exp, err := store.CreateExperiment(ctx, "exp")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Parsers = map[string]string{"http://example.org/schema/tomo": "tomo"}
	reg := NewRegistry(cfg)
	p := &recordingParser{}
	reg.Register("tomo", p)

	// No namespaces on the experiment yet.
	got, err := reg.ForExperiment(ctx, store, exp)
	require.NoError(t, err)
	assert.Nil(t, got)

	// An unconfigured namespace still resolves to default ingestion.
	require.NoError(t, store.SetExperimentParameter(ctx, exp.ID, "http://example.org/schema/misc", "k", "v"))
	got, err = reg.ForExperiment(ctx, store, exp)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.SetExperimentParameter(ctx, exp.ID, "http://example.org/schema/tomo", "k", "v"))
	got, err = reg.ForExperiment(ctx, store, exp)
	require.NoError(t, err)
	assert.Same(t, Parser(p), got)
}
