package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMD5(t *testing.T) {
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", MD5(nil))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", MD5([]byte("abc")))
}

func TestFileMD5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	sum, err := FileMD5(path)
	require.NoError(t, err)
	assert.Equal(t, MD5([]byte("abc")), sum)

	_, err = FileMD5(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
