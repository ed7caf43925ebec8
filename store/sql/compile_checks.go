package sqlstore

import "github.com/goliatone/go-wearables/core"

var (
	_ core.ConnectionStore        = (*ConnectionStore)(nil)
	_ core.TokenStore             = (*TokenStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
