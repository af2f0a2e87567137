// Package lvmetad is a client for the LVM metadata cache daemon. Requests
// and responses are documents in the metadata text format, each ended by a
// line holding "##".
//
// The daemon is an alternate source of the same metadata found in the
// metadata areas. Its answers are validated like any other copy.
package lvmetad

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/textfmt"
)

// DefaultSocket is where the daemon listens.
const DefaultSocket = "/run/lvm/lvmetad.socket"

const (
	terminator = "\n##\n"

	responseOK            = "OK"
	responseTokenMismatch = "token_mismatch"
)

var (
	// ErrCacheInvalid - the daemon flagged its cached metadata as invalid.
	ErrCacheInvalid = errors.New("cached metadata flagged as invalid")

	// ErrMalformedResponse - the response lacks a field every response of
	// its kind has.
	ErrMalformedResponse = errors.New("malformed response")
)

// ResponseError is a request the daemon answered with something other
// than OK.
type ResponseError struct {
	Op       string
	Response string
	Reason   string
}

func (e *ResponseError) Error() string {
	return "lvmetad " + e.Op + ": " + e.Response + ": " + e.Reason
}

// Client talks to one daemon socket. Each request uses its own connection.
type Client struct {
	Path  string
	Token string
	Log   *logrus.Entry

	// Timeout bounds a request whose context has no deadline.
	Timeout time.Duration
}

// New returns a client for the daemon listening on path.
func New(path string, log *logrus.Entry) *Client {
	if path == "" {
		path = DefaultSocket
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Client{Path: path, Token: "0", Log: log, Timeout: 10 * time.Second}
}

// encodeRequest lays out a request document: the request and token
// assignments, then args.
func (c *Client) encodeRequest(op string, args *textfmt.Map) []byte {
	m := textfmt.NewMap()
	m.Set("request", textfmt.String(op))
	m.Set("token", textfmt.String("filter:"+c.Token))

	_ = args.Each(func(k string, v textfmt.Entry) error {
		m.Set(k, v)
		return nil
	})

	return append(textfmt.Encode(m), terminator[1:]...)
}

type conn struct {
	net.Conn
	r *bufio.Reader
}

func (cn *conn) roundTrip(req []byte) (*textfmt.Map, error) {
	if _, err := cn.Write(req); err != nil {
		return nil, err
	}

	var buf []byte

	for {
		line, err := cn.r.ReadBytes('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading response")
		}

		if string(line) == terminator[1:] {
			break
		}

		buf = append(buf, line...)
	}

	return textfmt.Decode(buf)
}

func (c *Client) dial(ctx context.Context) (*conn, error) {
	var d net.Dialer

	nc, err := d.DialContext(ctx, "unix", c.Path)
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.Timeout > 0 {
		deadline, ok = time.Now().Add(c.Timeout), true
	}

	if ok {
		if err := nc.SetDeadline(deadline); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &conn{Conn: nc, r: bufio.NewReader(nc)}, nil
}

// Request sends op with args and returns the response without its
// response field. A token mismatch is answered with one token update and
// a retry.
func (c *Client) Request(ctx context.Context, op string, args *textfmt.Map) (*textfmt.Map, error) {
	log := c.Log.WithField("request", op)

	cn, err := c.dial(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "lvmetad %s", op)
	}
	defer cn.Close()

	req := c.encodeRequest(op, args)

	log.Debug("sending request")

	resp, err := cn.roundTrip(req)
	if err != nil {
		return nil, errors.Wrapf(err, "lvmetad %s", op)
	}

	if r, _ := resp.String("response"); r == responseTokenMismatch {
		log.Debug("token mismatch, updating token")

		if _, err := cn.roundTrip(c.encodeRequest("token_update", nil)); err != nil {
			return nil, errors.Wrapf(err, "lvmetad %s: token_update", op)
		}

		if resp, err = cn.roundTrip(req); err != nil {
			return nil, errors.Wrapf(err, "lvmetad %s", op)
		}
	}

	if resp.Has("global_invalid") || resp.Has("vg_invalid") {
		return nil, errors.Wrapf(ErrCacheInvalid, "lvmetad %s", op)
	}

	r, ok := resp.String("response")
	if !ok {
		return nil, errors.Wrapf(ErrMalformedResponse, "lvmetad %s: no response field", op)
	}

	if r != responseOK {
		reason, ok := resp.String("reason")
		if !ok {
			reason = "no reason given"
		}

		return nil, &ResponseError{Op: op, Response: r, Reason: reason}
	}

	resp.Delete("response")

	return resp, nil
}

// VGRef names a volume group known to the daemon.
type VGRef struct {
	UUID string
	Name string
}

// ListVGs returns the volume groups the daemon knows, in its order.
func (c *Client) ListVGs(ctx context.Context) ([]VGRef, error) {
	resp, err := c.Request(ctx, "vg_list", nil)
	if err != nil {
		return nil, err
	}

	vgs, ok := resp.Nested("volume_groups")
	if !ok {
		return nil, errors.Wrap(ErrMalformedResponse, "lvmetad vg_list: no volume_groups")
	}

	refs := []VGRef{}

	err = vgs.Each(func(id string, v textfmt.Entry) error {
		sub, ok := v.AsMap()
		if !ok {
			return errors.Wrapf(ErrMalformedResponse, "lvmetad vg_list: %s is not a section", id)
		}

		name, ok := sub.String("name")
		if !ok {
			return errors.Wrapf(ErrMalformedResponse, "lvmetad vg_list: %s has no name", id)
		}

		refs = append(refs, VGRef{UUID: id, Name: name})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

// LookupVG fetches and validates the metadata of the volume group with id
// uuid.
func (c *Client) LookupVG(ctx context.Context, uuid string) (*lvmeta.VG, error) {
	args := textfmt.NewMap()
	args.Set("uuid", textfmt.String(uuid))

	resp, err := c.Request(ctx, "vg_lookup", args)
	if err != nil {
		return nil, err
	}

	name, ok := resp.String("name")
	if !ok {
		return nil, errors.Wrapf(ErrMalformedResponse, "lvmetad vg_lookup %s: no name", uuid)
	}

	md, ok := resp.Nested("metadata")
	if !ok {
		return nil, errors.Wrapf(ErrMalformedResponse, "lvmetad vg_lookup %s: no metadata", uuid)
	}

	vg, err := lvmeta.VGFromTree(name, md)
	if err != nil {
		return nil, errors.Wrapf(err, "lvmetad vg_lookup %s", uuid)
	}

	return vg, nil
}

// VGs fetches every volume group the daemon knows.
func (c *Client) VGs(ctx context.Context) ([]*lvmeta.VG, error) {
	refs, err := c.ListVGs(ctx)
	if err != nil {
		return nil, err
	}

	vgs := make([]*lvmeta.VG, 0, len(refs))

	for _, ref := range refs {
		vg, err := c.LookupVG(ctx, ref.UUID)
		if err != nil {
			return nil, err
		}

		if vg.Name != ref.Name {
			return nil, errors.Wrapf(ErrMalformedResponse, "lvmetad: %s listed as %s, looked up as %s",
				ref.UUID, ref.Name, vg.Name)
		}

		vgs = append(vgs, vg)
	}

	return vgs, nil
}

// UpdateVG hands the daemon the current metadata of vg.
func (c *Client) UpdateVG(ctx context.Context, vg *lvmeta.VG) error {
	args := textfmt.NewMap()
	args.Set("vgname", textfmt.String(vg.Name))
	args.Set("metadata", textfmt.Nested(vg.ToTree()))

	if _, err := c.Request(ctx, "vg_update", args); err != nil {
		return err
	}

	c.Log.WithFields(logrus.Fields{"vg": vg.Name, "seqno": vg.Seqno}).Debug("cache updated")

	return nil
}
