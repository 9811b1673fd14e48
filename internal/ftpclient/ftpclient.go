// Package ftpclient adapts github.com/jlaffaye/ftp to the FTP port spec.md
// §6 names: login, chdir, nlist, mtime, get, put, delete, rename.
package ftpclient

import (
	"fmt"
	"io"
	"time"

	"github.com/jlaffaye/ftp"
)

// Client is a logged-in FTP session bound to one remote root.
type Client struct {
	conn *ftp.ServerConn
}

// Dial connects and logs in to addr (host:port), then changes into root.
func Dial(addr, user, pass, root string, timeout time.Duration) (*Client, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("ftpclient: dial %s: %w", addr, err)
	}

	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftpclient: login: %w", err)
	}

	if root != "" {
		if err := conn.ChangeDir(root); err != nil {
			conn.Quit()
			return nil, fmt.Errorf("ftpclient: chdir %s: %w", root, err)
		}
	}

	return &Client{conn: conn}, nil
}

// Close ends the control connection.
func (c *Client) Close() error {
	return c.conn.Quit()
}

// NList lists the names of entries in the current directory (spec.md §4.5
// step 2, NLST).
func (c *Client) NList() ([]string, error) {
	names, err := c.conn.NameList("")
	if err != nil {
		return nil, fmt.Errorf("ftpclient: nlist: %w", err)
	}
	return names, nil
}

// MTime returns the remote modification time of name (spec.md §4.5 step 3b,
// MDTM).
func (c *Client) MTime(name string) (time.Time, error) {
	t, err := c.conn.GetTime(name)
	if err != nil {
		return time.Time{}, fmt.Errorf("ftpclient: mtime %s: %w", name, err)
	}
	return t, nil
}

// Get retrieves name and streams its body to w.
func (c *Client) Get(name string, w io.Writer) error {
	resp, err := c.conn.Retr(name)
	if err != nil {
		return fmt.Errorf("ftpclient: get %s: %w", name, err)
	}
	defer resp.Close()

	if _, err := io.Copy(w, resp); err != nil {
		return fmt.Errorf("ftpclient: get %s: copy: %w", name, err)
	}
	return nil
}

// Put uploads the contents of r as name.
func (c *Client) Put(name string, r io.Reader) error {
	if err := c.conn.Stor(name, r); err != nil {
		return fmt.Errorf("ftpclient: put %s: %w", name, err)
	}
	return nil
}

// Delete removes name from the remote directory.
func (c *Client) Delete(name string) error {
	if err := c.conn.Delete(name); err != nil {
		return fmt.Errorf("ftpclient: delete %s: %w", name, err)
	}
	return nil
}

// Rename moves name to dest on the remote side (spec.md §4.5 step 5,
// post-transfer backup disposition).
func (c *Client) Rename(name, dest string) error {
	if err := c.conn.Rename(name, dest); err != nil {
		return fmt.Errorf("ftpclient: rename %s -> %s: %w", name, dest, err)
	}
	return nil
}
