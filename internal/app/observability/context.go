package observability

import (
	"context"

	"github.com/gunjou/api-ukai-syndrome/internal/auth"
)

type holderKey struct{}

type userHolder struct {
	user *auth.User
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, holderKey{}, h)
}
