// Package registry manages the lifecycle of discovered plugin providers.
//
// A Registry is built explicitly and owned by the process bootstrap:
//
//	reg := registry.New(
//		registry.WithDiscovery(discovery.NewEngine(log)),
//		registry.WithProviderConfigs(cfg.ProviderConfigs()),
//		registry.WithLogger(log),
//	)
//	report, err := reg.StartAll(ctx)
//	defer reg.ShutdownAll(context.Background())
//
// StartAll tolerates partial failure. Each provider moves through
//
//	DISCOVERED -> RESOLVED -> VERSION_CHECKED -> CONFIGURED -> STARTED -> SHUTDOWN
//
// or into FAILED, and the StartupReport records where and why. DISCOVERED
// belongs to the declaration read from an index: discovery resolves it before
// the registry sees it, so a registered record starts at RESOLVED, and a
// declaration that fails to resolve is recorded FAILED at the discovery stage.
// Consumers then use Get and List:
//
//	p, err := reg.Get(plugins.CategoryCompute, "sqlite")
//
// Providers in lazy categories stop at CONFIGURED during StartAll and are
// instantiated and started by their first Get.
package registry
