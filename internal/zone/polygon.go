package zone

import "github.com/civicsentinel/zonewatch/pkg/types"

// ContainsPoint reports whether (x, y) lies inside the polygon using a
// horizontal ray-casting crossing test. Polygons with fewer than 3 vertices
// contain nothing.
//
// Boundary rule (fixed, pinned by tests): an edge is crossed when the point's
// y lies in (min(y1,y2), max(y1,y2)] and the point is at or left of the
// edge's intersection with the ray. Points exactly on a vertical left edge
// therefore count as inside, points on a horizontal edge follow from the
// half-open interval. Horizontal edges never toggle the crossing parity.
func ContainsPoint(x, y float64, polygon []types.Point) bool {
	n := len(polygon)
	if n < 3 {
		return false
	}

	inside := false
	p1 := polygon[0]
	for i := 1; i <= n; i++ {
		p2 := polygon[i%n]
		if y > min(p1.Y, p2.Y) && y <= max(p1.Y, p2.Y) && x <= max(p1.X, p2.X) {
			if p1.X == p2.X {
				inside = !inside
			} else if p1.Y != p2.Y {
				xIntersect := (y-p1.Y)*(p2.X-p1.X)/(p2.Y-p1.Y) + p1.X
				if x <= xIntersect {
					inside = !inside
				}
			}
		}
		p1 = p2
	}
	return inside
}
