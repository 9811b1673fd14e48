package transfer

import (
	"fmt"
	"strconv"

	"github.com/canonical/dcxfer/internal/dcconfig"
)

// ClientType selects which side of the C4 session plays sender vs receiver
// (spec.md §4.4 Handshake).
type ClientType int

const (
	// ClientPull: server is sender, client is receiver.
	ClientPull ClientType = 1
	// ClientPush: client is sender, server is receiver.
	ClientPush ClientType = 2
)

// Disposition is the post-transfer action applied to a source file on a
// successful ack (spec.md §4.4).
type Disposition int

const (
	DispositionNone   Disposition = 0
	DispositionDelete Disposition = 1
	DispositionMove   Disposition = 2
)

// LoginRequest is the client's opening control frame (spec.md §6 "Login").
type LoginRequest struct {
	ClientType  ClientType
	SourceRoot  string
	DestRoot    string
	MatchName   string
	ScanSeconds int
	PName       string
	Disposition Disposition
	BackupRoot  string
	Recurse     bool
}

// Encode renders the login control frame.
func (l LoginRequest) Encode() string {
	recurse := "0"
	if l.Recurse {
		recurse = "1"
	}
	return dcconfig.Encode(
		[2]string{"clienttype", strconv.Itoa(int(l.ClientType))},
		[2]string{"srvpath", l.SourceRoot},
		[2]string{"clientpath", l.DestRoot},
		[2]string{"matchname", l.MatchName},
		[2]string{"timetvl", strconv.Itoa(l.ScanSeconds)},
		[2]string{"pname", l.PName},
		[2]string{"ptype", strconv.Itoa(int(l.Disposition))},
		[2]string{"srvpathbak", l.BackupRoot},
		[2]string{"andchild", recurse},
	)
}

// ParseLoginRequest decodes a login control frame.
func ParseLoginRequest(s string) (LoginRequest, error) {
	tags, err := dcconfig.Parse(s)
	if err != nil {
		return LoginRequest{}, err
	}

	ct, err := strconv.Atoi(tags.GetDefault("clienttype", "1"))
	if err != nil {
		return LoginRequest{}, fmt.Errorf("transfer: bad clienttype: %w", err)
	}
	ptype, _ := strconv.Atoi(tags.GetDefault("ptype", "0"))
	scan, _ := strconv.Atoi(tags.GetDefault("timetvl", "30"))

	return LoginRequest{
		ClientType:  ClientType(ct),
		SourceRoot:  tags.GetDefault("srvpath", ""),
		DestRoot:    tags.GetDefault("clientpath", ""),
		MatchName:   tags.GetDefault("matchname", "*"),
		ScanSeconds: scan,
		PName:       tags.GetDefault("pname", ""),
		Disposition: Disposition(ptype),
		BackupRoot:  tags.GetDefault("srvpathbak", ""),
		Recurse:     tags.GetDefault("andchild", "0") == "1",
	}, nil
}

const (
	loginSuccess = "success"
	loginFailed  = "failed"
)

// ActiveTestRequest/Reply are the keepalive frames of spec.md §6.
const (
	activeTestRequest = "<activetest>ok</activetest>"
	activeTestReply   = "ok"
)

// FileRequest announces one file's transfer (spec.md §3 TransferRequest).
type FileRequest struct {
	Filename string
	FileSize int64
	MTime    string // yyyymmddhh24miss
}

// Encode renders the file-announcement control frame.
func (f FileRequest) Encode() string {
	return dcconfig.Encode(
		[2]string{"filename", f.Filename},
		[2]string{"filesize", strconv.FormatInt(f.FileSize, 10)},
		[2]string{"mtime", f.MTime},
	)
}

// ParseFileRequest decodes a file-announcement control frame.
func ParseFileRequest(s string) (FileRequest, error) {
	tags, err := dcconfig.Parse(s)
	if err != nil {
		return FileRequest{}, err
	}
	name, err := tags.Require("filename")
	if err != nil {
		return FileRequest{}, err
	}
	sizeStr, err := tags.Require("filesize")
	if err != nil {
		return FileRequest{}, err
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return FileRequest{}, fmt.Errorf("transfer: bad filesize: %w", err)
	}
	mtime, _ := tags.Get("mtime")

	return FileRequest{Filename: name, FileSize: size, MTime: mtime}, nil
}

// AckResult is the outcome reported in a TransferAck (spec.md §3).
type AckResult string

const (
	AckSuccess AckResult = "success"
	AckFailed  AckResult = "failed"
)

// Ack is spec.md §3's TransferAck.
type Ack struct {
	Filename string
	Result   AckResult
}

// Encode renders the ack control frame.
func (a Ack) Encode() string {
	return dcconfig.Encode(
		[2]string{"filename", a.Filename},
		[2]string{"result", string(a.Result)},
	)
}

// ParseAck decodes an ack control frame.
func ParseAck(s string) (Ack, error) {
	tags, err := dcconfig.Parse(s)
	if err != nil {
		return Ack{}, err
	}
	name, err := tags.Require("filename")
	if err != nil {
		return Ack{}, err
	}
	result := AckResult(tags.GetDefault("result", string(AckFailed)))
	return Ack{Filename: name, Result: result}, nil
}

// isActiveTest reports whether s is the keepalive control frame.
func isActiveTest(s string) bool {
	return s == activeTestRequest
}
