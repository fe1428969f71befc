package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// haversineRadius matches the radius used for parcel frontage figures.
const haversineRadius = 6371000.0

// Side is one edge of a parcel ring.
type Side struct {
	From     orb.Point `json:"from"`
	To       orb.Point `json:"to"`
	Distance float64   `json:"distance"` // metres, two decimals
	Azimuth  float64   `json:"azimuth"`  // degrees clockwise from north, one decimal
}

// Frontages holds the side lengths of a parcel by orientation.
type Frontages struct {
	Frente   float64 `json:"frente"`
	Fundo    float64 `json:"fundo"`
	Esquerda float64 `json:"esquerda"`
	Direita  float64 `json:"direita"`
}

// Boundaries names what borders each side of a parcel.
type Boundaries struct {
	Frente   string `json:"frente"`
	Fundo    string `json:"fundo"`
	Esquerda string `json:"esquerda"`
	Direita  string `json:"direita"`
}

// ParcelSides is the result of a frontage calculation.
type ParcelSides struct {
	Testadas      Frontages  `json:"testadas"`
	Confrontacoes Boundaries `json:"confrontacoes"`
	Sides         []Side     `json:"sides_data,omitempty"`
}

// Sides returns the edges of the outer ring, closing it if needed.
func Sides(ring orb.Ring) []Side {
	if len(ring) > 1 && ring.Closed() {
		ring = ring[:len(ring)-1]
	}

	sides := make([]Side, 0, len(ring))
	for i := range ring {
		p1 := ring[i]
		p2 := ring[(i+1)%len(ring)]
		dist, az := haversine(p1, p2)
		sides = append(sides, Side{
			From:     p1,
			To:       p2,
			Distance: Round2(dist),
			Azimuth:  math.Round(az*10) / 10,
		})
	}
	return sides
}

// CalculateSides classifies the polygon edges into front, back, left and right.
// Edges running east-west are ordered by latitude (south is the front), edges
// running north-south by longitude (west is the left).
func CalculateSides(p orb.Polygon) ParcelSides {
	if len(p) == 0 || len(p[0]) < 4 {
		return ParcelSides{
			Confrontacoes: Boundaries{
				Frente:   "A definir",
				Fundo:    "A definir",
				Esquerda: "A definir",
				Direita:  "A definir",
			},
		}
	}

	sides := Sides(p[0])
	var t Frontages

	if len(sides) >= 4 {
		var horizontal, vertical []Side
		for _, s := range sides {
			if (s.Azimuth >= 45 && s.Azimuth <= 135) || (s.Azimuth >= 225 && s.Azimuth <= 315) {
				horizontal = append(horizontal, s)
			} else {
				vertical = append(vertical, s)
			}
		}

		if len(horizontal) >= 2 {
			sort.SliceStable(horizontal, func(i, j int) bool {
				return midLat(horizontal[i]) < midLat(horizontal[j])
			})
			t.Frente = horizontal[0].Distance
			t.Fundo = horizontal[len(horizontal)-1].Distance
		}
		if len(vertical) >= 2 {
			sort.SliceStable(vertical, func(i, j int) bool {
				return midLng(vertical[i]) < midLng(vertical[j])
			})
			t.Esquerda = vertical[0].Distance
			t.Direita = vertical[len(vertical)-1].Distance
		}

		if t == (Frontages{}) {
			t = Frontages{
				Frente:   sides[0].Distance,
				Direita:  sides[1].Distance,
				Fundo:    sides[2].Distance,
				Esquerda: sides[3].Distance,
			}
		}
	} else {
		slots := []*float64{&t.Frente, &t.Direita, &t.Fundo, &t.Esquerda}
		for i, s := range sides {
			*slots[i] = s.Distance
		}
	}

	return ParcelSides{
		Testadas: t,
		Confrontacoes: Boundaries{
			Frente:   "Via pública",
			Fundo:    "Terreno baldio",
			Esquerda: "Propriedade particular",
			Direita:  "Propriedade particular",
		},
		Sides: sides,
	}
}

func haversine(p1, p2 orb.Point) (dist, azimuth float64) {
	lat1, lon1 := rad(p1.Lat()), rad(p1.Lon())
	lat2, lon2 := rad(p2.Lat()), rad(p2.Lon())
	dlat := lat2 - lat1
	dlon := lon2 - lon1

	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	dist = haversineRadius * 2 * math.Asin(math.Sqrt(a))

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	azimuth = math.Atan2(y, x) * 180 / math.Pi
	if azimuth < 0 {
		azimuth += 360
	}
	return dist, azimuth
}

func midLat(s Side) float64 { return (s.From.Lat() + s.To.Lat()) / 2 }
func midLng(s Side) float64 { return (s.From.Lon() + s.To.Lon()) / 2 }
