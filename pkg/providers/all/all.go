// Package all links every built-in provider into the binary. Import it for
// side effects so each provider publishes itself into the builtin index.
package all

import (
	_ "github.com/platinummonkey/pluginhost/pkg/providers/envsecrets"
	_ "github.com/platinummonkey/pluginhost/pkg/providers/oidc"
	_ "github.com/platinummonkey/pluginhost/pkg/providers/postgres"
	_ "github.com/platinummonkey/pluginhost/pkg/providers/redislineage"
	_ "github.com/platinummonkey/pluginhost/pkg/providers/s3"
	_ "github.com/platinummonkey/pluginhost/pkg/providers/sqlite"
)
