package posts

import (
	"context"
	"time"

	"Postwing/internal/atproto/xrpc"
)

// networkPublisher adapts the XRPC client to the Publisher contract.
type networkPublisher struct {
	client *xrpc.Client
}

// NewPublisher wraps the network client for use by the post service.
func NewPublisher(client *xrpc.Client) Publisher {
	return &networkPublisher{client: client}
}

func (p *networkPublisher) CreatePost(ctx context.Context, userID, text string, createdAt time.Time, reply *ReplyRef) (string, string, error) {
	var ref *xrpc.ReplyRef
	if reply != nil {
		ref = &xrpc.ReplyRef{
			RootURI:   reply.RootURI,
			RootCID:   reply.RootCID,
			ParentURI: reply.ParentURI,
			ParentCID: reply.ParentCID,
		}
	}
	return p.client.CreatePost(ctx, userID, text, createdAt, ref)
}
