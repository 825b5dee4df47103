package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/doc"
)

func TestSoftwareVersionCompare(t *testing.T) {
	re := require.New(t)

	re.Equal(0, CompareSoftwareVersion([]int64{4, 2, 0}, []int64{4, 2, 0}))
	re.Equal(-1, CompareSoftwareVersion([]int64{2, 4, 0}, []int64{2, 6, 0}))
	re.Equal(1, CompareSoftwareVersion([]int64{4, 0}, []int64{2, 6, 0}))
}

func TestBackendSupportsCommandForm(t *testing.T) {
	re := require.New(t)

	b := NewBackend("host1:27017")
	re.False(b.SupportsCommandForm())

	b.SetStatus(doc.New(doc.F("versionArray", doc.Array{int64(2), int64(6), int64(0)})))
	re.True(b.SupportsCommandForm())

	b.SetStatus(doc.New(doc.F("versionArray", doc.Array{int64(2), int64(4), int64(0)})))
	re.False(b.SupportsCommandForm())
}

func TestTagsMatchAny(t *testing.T) {
	re := require.New(t)

	backendTags := doc.New(doc.F("dc", "east"), doc.F("rack", "1"))
	prefs := doc.Array{
		doc.New(doc.F("dc", "west")),
		doc.New(doc.F("dc", "east")),
	}
	re.True(TagsMatchAny(backendTags, prefs))
	re.True(TagsMatchAny(backendTags, nil))

	prefs2 := doc.Array{doc.New(doc.F("dc", "west"))}
	re.False(TagsMatchAny(backendTags, prefs2))
}

func TestBackendPermanentFailureResetsOnPidChange(t *testing.T) {
	re := require.New(t)

	b := NewBackend("host1:27017")
	b.MarkPermanentFailure()
	re.True(b.IsPermanentlyFailed())

	b.SetStatus(doc.New(doc.F("pid", int64(100))))
	re.False(b.IsPermanentlyFailed())

	b.MarkPermanentFailure()
	b.SetStatus(doc.New(doc.F("pid", int64(100))))
	re.True(b.IsPermanentlyFailed(), "same pid must not clear the flag")
}
