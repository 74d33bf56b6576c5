/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package zone

import cmap "github.com/orcaman/concurrent-map/v2"

// Zones is the process-wide registry of loaded zones, keyed by apex
// name. The map is concurrent because the API handlers look zones up
// from their own goroutines; each ZoneData's own state is still only
// mutated by its signer worker.
var Zones = cmap.New[*ZoneData]()
