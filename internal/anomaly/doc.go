// Package anomaly scans the warehouse and the derived valuations for trading
// patterns worth a closer look: herd trading, risk-seeking hyperactive accounts,
// unusual trades ahead of large price moves and holdings that dwarf a ticker's
// traded volume.
//
// Every rule is a heuristic driven by config.AnomalyConfig thresholds. Rules run
// concurrently and never modify their input; flags are merged in a fixed order so
// reruns over the same data produce the same output.
package anomaly
