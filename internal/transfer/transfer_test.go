package transfer

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSenderReceiverRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	contents := map[string]string{
		"a.xml": "",
		"b.xml": "hello world",
		"c.xml": string(make([]byte, Chunk)),
		"d.xml": string(make([]byte, Chunk+1)),
	}
	for name, data := range contents {
		require.NoError(t, os.WriteFile(filepath.Join(srcDir, name), []byte(data), 0644))
	}

	// A loopback TCP pair, not net.Pipe: the pipelined sender writes the next
	// file before reading acks, which needs the stream to buffer them.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverConn, err := ln.Accept()
	require.NoError(t, err)
	defer clientConn.Close()
	defer serverConn.Close()

	sender := NewSender(SenderConfig{
		SourceRoot:   srcDir,
		MatchName:    "*.xml",
		ScanInterval: 10 * time.Millisecond,
		Disposition:  DispositionNone,
	}, nil)
	receiver := NewReceiver(ReceiverConfig{DestRoot: dstDir}, nil)

	done := make(chan error, 1)
	go func() {
		done <- receiver.Serve(NewConn(serverConn))
	}()

	err = sender.RunOnce(NewConn(clientConn), nil)
	require.NoError(t, err)

	for name, want := range contents {
		got, err := os.ReadFile(filepath.Join(dstDir, name))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}

	clientConn.Close()
	<-done
}

func TestFrameRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		writeFrame(clientConn, FrameControl, []byte("<a>1</a>"))
	}()

	typ, payload, err := readFrame(serverConn)
	require.NoError(t, err)
	require.Equal(t, FrameControl, typ)
	require.Equal(t, "<a>1</a>", string(payload))
}
