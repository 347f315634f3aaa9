package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedMigrations(t *testing.T) {
	migs, err := Ordered()
	require.NoError(t, err)
	require.NotEmpty(t, migs)

	assert.Equal(t, "0001_loss_runs.sql", migs[0].Name)
	assert.Contains(t, migs[0].SQL, "CREATE TABLE IF NOT EXISTS loss_runs")
	assert.Contains(t, migs[0].SQL, "CREATE TABLE IF NOT EXISTS loss_cells")

	require.Len(t, migs, 2)
	assert.Equal(t, "0002_loss_run_vendor_names.sql", migs[1].Name)
	assert.Contains(t, migs[1].SQL, "ADD COLUMN IF NOT EXISTS vendor_names")
}
