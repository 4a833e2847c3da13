package ledger

// Lot resolution uses squared Euclidean distance in degree space rather than
// great-circle distance. Lots are sparse and regionally clustered, so the two
// metrics agree on the nearest lot, and the planar form is deterministic and
// avoids trig entirely.

func squaredDistance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat1 - lat2
	dLon := lon1 - lon2
	return dLat*dLat + dLon*dLon
}

// FindClosestLot returns the registered lot nearest to the given coordinate.
// Exact distance ties resolve to the smallest lot ID. It returns ErrNotFound
// when the catalog holds no lots.
func (s *Store) FindClosestLot(lat, lon float64) (Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best     Lot
		bestDist float64
		found    bool
	)
	for _, lot := range s.lots {
		d := squaredDistance(lat, lon, lot.Latitude, lot.Longitude)
		switch {
		case !found, d < bestDist:
			best, bestDist, found = lot, d, true
		case d == bestDist && lot.ID < best.ID:
			best = lot
		}
	}

	if !found {
		return Lot{}, ErrNotFound
	}
	return best, nil
}
