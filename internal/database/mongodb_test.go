package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectMongo_EmptyURI(t *testing.T) {
	_, err := ConnectMongo(context.Background(), "", time.Second)
	require.ErrorContains(t, err, "empty uri")
}

func TestConnectMongo_Unreachable(t *testing.T) {
	start := time.Now()
	_, err := ConnectMongo(context.Background(), "mongodb://127.0.0.1:1/?connect=direct", 300*time.Millisecond)
	require.Error(t, err)
	require.Less(t, time.Since(start), 10*time.Second)
}
