package hub

import (
	"context"
	"net/url"
	"strconv"
)

// PageOpts controls a single page request to a paginated hub endpoint.
type PageOpts struct {
	PageSize  int
	PageToken string
	Reverse   bool
}

func (o PageOpts) values() url.Values {
	v := url.Values{}
	if o.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(o.PageSize))
	}
	if o.PageToken != "" {
		v.Set("pageToken", o.PageToken)
	}
	if o.Reverse {
		v.Set("reverse", "1")
	}
	return v
}

// EventsOpts controls GET /v1/events.
type EventsOpts struct {
	FromEventID uint64
	PageSize    int
	PageToken   string
}

// GetHubInfo fetches the hub's version and stats.
func (c *Client) GetHubInfo(ctx context.Context) (*HubInfo, error) {
	var out HubInfo
	if err := c.do(ctx, "/v1/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetEvents fetches one page of the hub event stream starting at
// FromEventID (exclusive of anything already consumed by the caller).
func (c *Client) GetEvents(ctx context.Context, opts EventsOpts) (*EventsPage, error) {
	v := url.Values{}
	if opts.FromEventID > 0 {
		v.Set("fromEventId", strconv.FormatUint(opts.FromEventID, 10))
	}
	if opts.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if opts.PageToken != "" {
		v.Set("pageToken", opts.PageToken)
	}
	var out EventsPage
	if err := c.do(ctx, "/v1/events", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getMessagesByFid(ctx context.Context, path string, fid uint64, opts PageOpts) (*MessagesPage, error) {
	v := opts.values()
	v.Set("fid", strconv.FormatUint(fid, 10))
	var out MessagesPage
	if err := c.do(ctx, path, v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetCastsByFid(ctx context.Context, fid uint64, opts PageOpts) (*MessagesPage, error) {
	return c.getMessagesByFid(ctx, "/v1/castsByFid", fid, opts)
}

func (c *Client) GetReactionsByFid(ctx context.Context, fid uint64, opts PageOpts) (*MessagesPage, error) {
	return c.getMessagesByFid(ctx, "/v1/reactionsByFid", fid, opts)
}

func (c *Client) GetLinksByFid(ctx context.Context, fid uint64, opts PageOpts) (*MessagesPage, error) {
	return c.getMessagesByFid(ctx, "/v1/linksByFid", fid, opts)
}

func (c *Client) GetVerificationsByFid(ctx context.Context, fid uint64, opts PageOpts) (*MessagesPage, error) {
	return c.getMessagesByFid(ctx, "/v1/verificationsByFid", fid, opts)
}

func (c *Client) GetUserDataByFid(ctx context.Context, fid uint64, opts PageOpts) (*MessagesPage, error) {
	return c.getMessagesByFid(ctx, "/v1/userDataByFid", fid, opts)
}

func (c *Client) GetOnChainSignersByFid(ctx context.Context, fid uint64, opts PageOpts) (*OnChainEventsPage, error) {
	v := opts.values()
	v.Set("fid", strconv.FormatUint(fid, 10))
	var out OnChainEventsPage
	if err := c.do(ctx, "/v1/onChainSignersByFid", v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// pageSizeDefault is used by the GetAll* convenience wrappers that drive
// pagination to completion.
const pageSizeDefault = 1000

// GetAllCastsByFid pages through every cast for fid and returns the
// concatenation of all pages, in hub-returned order.
func (c *Client) GetAllCastsByFid(ctx context.Context, fid uint64) ([]Message, error) {
	return c.drainMessages(ctx, c.GetCastsByFid, fid)
}

func (c *Client) GetAllReactionsByFid(ctx context.Context, fid uint64) ([]Message, error) {
	return c.drainMessages(ctx, c.GetReactionsByFid, fid)
}

func (c *Client) GetAllLinksByFid(ctx context.Context, fid uint64) ([]Message, error) {
	return c.drainMessages(ctx, c.GetLinksByFid, fid)
}

func (c *Client) GetAllVerificationsByFid(ctx context.Context, fid uint64) ([]Message, error) {
	return c.drainMessages(ctx, c.GetVerificationsByFid, fid)
}

func (c *Client) GetAllUserDataByFid(ctx context.Context, fid uint64) ([]Message, error) {
	return c.drainMessages(ctx, c.GetUserDataByFid, fid)
}

func (c *Client) GetAllOnChainSignersByFid(ctx context.Context, fid uint64) ([]OnChainEvent, error) {
	var all []OnChainEvent
	token := ""
	for {
		page, err := c.GetOnChainSignersByFid(ctx, fid, PageOpts{PageSize: pageSizeDefault, PageToken: token})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Events...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

func (c *Client) drainMessages(ctx context.Context, fetch func(context.Context, uint64, PageOpts) (*MessagesPage, error), fid uint64) ([]Message, error) {
	var all []Message
	token := ""
	for {
		page, err := fetch(ctx, fid, PageOpts{PageSize: pageSizeDefault, PageToken: token})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Messages...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}
