package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremho/inverse-y/internal/session"
	"github.com/tremho/inverse-y/internal/sso/slot"
)

type fakeEnsurer struct {
	ensured []string
	fail    string
}

func (f *fakeEnsurer) EnsureBucket(_ context.Context, bucket string) error {
	if bucket == f.fail {
		return errors.New("bucket creation denied")
	}
	f.ensured = append(f.ensured, bucket)
	return nil
}

func Test_EnsureCoreBuckets(t *testing.T) {
	f := &fakeEnsurer{}
	require.NoError(t, ensureCoreBuckets(context.Background(), f))
	assert.Equal(t, []string{slot.Bucket, session.Bucket}, f.ensured)
}

func Test_EnsureCoreBuckets_PropagatesFailure(t *testing.T) {
	f := &fakeEnsurer{fail: session.Bucket}
	err := ensureCoreBuckets(context.Background(), f)
	require.Error(t, err)
	assert.Equal(t, []string{slot.Bucket}, f.ensured)
}
