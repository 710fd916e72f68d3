package oracle

// Simplex noise after Perlin's reference algorithm. Output lies in [-1, 1].

var grad3 = [12][3]float64{
	{1, 1, 0}, {-1, 1, 0}, {1, -1, 0}, {-1, -1, 0},
	{1, 0, 1}, {-1, 0, 1}, {1, 0, -1}, {-1, 0, -1},
	{0, 1, 1}, {0, -1, 1}, {0, 1, -1}, {0, -1, -1},
}

// field is one seeded simplex noise field.
type field struct {
	perm [512]uint8
}

func newField(seed int64) *field {
	f := &field{}
	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}
	s := uint64(seed)
	for i := 255; i > 0; i-- {
		s = splitmix(s)
		j := int(s % uint64(i+1))
		p[i], p[j] = p[j], p[i]
	}
	for i := range f.perm {
		f.perm[i] = p[i&255]
	}
	return f
}

func (f *field) at(i int) int { return int(f.perm[i]) }

func (f *field) noise2(x, y float64) float64 {
	const (
		f2 = 0.36602540378443864676
		g2 = 0.21132486540518711775
	)
	s := (x + y) * f2
	i := fastFloor(x + s)
	j := fastFloor(y + s)
	t := float64(i+j) * g2
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)

	i1, j1 := 0, 1
	if x0 > y0 {
		i1, j1 = 1, 0
	}
	x1 := x0 - float64(i1) + g2
	y1 := y0 - float64(j1) + g2
	x2 := x0 - 1.0 + 2.0*g2
	y2 := y0 - 1.0 + 2.0*g2

	ii := i & 255
	jj := j & 255
	gi0 := f.at(ii+f.at(jj)) % 12
	gi1 := f.at(ii+i1+f.at(jj+j1)) % 12
	gi2 := f.at(ii+1+f.at(jj+1)) % 12

	return 70.0 * (corner2(gi0, x0, y0) + corner2(gi1, x1, y1) + corner2(gi2, x2, y2))
}

func corner2(gi int, x, y float64) float64 {
	t := 0.5 - x*x - y*y
	if t < 0 {
		return 0
	}
	t *= t
	g := grad3[gi]
	return t * t * (g[0]*x + g[1]*y)
}

func (f *field) noise3(x, y, z float64) float64 {
	const (
		f3 = 1.0 / 3.0
		g3 = 1.0 / 6.0
	)
	s := (x + y + z) * f3
	i := fastFloor(x + s)
	j := fastFloor(y + s)
	k := fastFloor(z + s)
	t := float64(i+j+k) * g3
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)
	z0 := z - (float64(k) - t)

	var i1, j1, k1, i2, j2, k2 int
	switch {
	case x0 >= y0 && y0 >= z0:
		i1, j1, k1, i2, j2, k2 = 1, 0, 0, 1, 1, 0
	case x0 >= y0 && x0 >= z0:
		i1, j1, k1, i2, j2, k2 = 1, 0, 0, 1, 0, 1
	case x0 >= y0:
		i1, j1, k1, i2, j2, k2 = 0, 0, 1, 1, 0, 1
	case y0 < z0:
		i1, j1, k1, i2, j2, k2 = 0, 0, 1, 0, 1, 1
	case x0 < z0:
		i1, j1, k1, i2, j2, k2 = 0, 1, 0, 0, 1, 1
	default:
		i1, j1, k1, i2, j2, k2 = 0, 1, 0, 1, 1, 0
	}

	x1 := x0 - float64(i1) + g3
	y1 := y0 - float64(j1) + g3
	z1 := z0 - float64(k1) + g3
	x2 := x0 - float64(i2) + 2.0*g3
	y2 := y0 - float64(j2) + 2.0*g3
	z2 := z0 - float64(k2) + 2.0*g3
	x3 := x0 - 1.0 + 3.0*g3
	y3 := y0 - 1.0 + 3.0*g3
	z3 := z0 - 1.0 + 3.0*g3

	ii := i & 255
	jj := j & 255
	kk := k & 255
	gi0 := f.at(ii+f.at(jj+f.at(kk))) % 12
	gi1 := f.at(ii+i1+f.at(jj+j1+f.at(kk+k1))) % 12
	gi2 := f.at(ii+i2+f.at(jj+j2+f.at(kk+k2))) % 12
	gi3 := f.at(ii+1+f.at(jj+1+f.at(kk+1))) % 12

	return 32.0 * (corner3(gi0, x0, y0, z0) + corner3(gi1, x1, y1, z1) +
		corner3(gi2, x2, y2, z2) + corner3(gi3, x3, y3, z3))
}

func corner3(gi int, x, y, z float64) float64 {
	t := 0.6 - x*x - y*y - z*z
	if t < 0 {
		return 0
	}
	t *= t
	g := grad3[gi]
	return t * t * (g[0]*x + g[1]*y + g[2]*z)
}

// octave2 layers octaves of 2D noise and normalizes back to [-1, 1].
func (f *field) octave2(x, y float64, octaves int, persistence float64) float64 {
	var total, maxVal float64
	freq, amp := 1.0, 1.0
	for i := 0; i < octaves; i++ {
		total += f.noise2(x*freq, y*freq) * amp
		maxVal += amp
		amp *= persistence
		freq *= 2
	}
	return total / maxVal
}

func (f *field) octave3(x, y, z float64, octaves int, persistence float64) float64 {
	var total, maxVal float64
	freq, amp := 1.0, 1.0
	for i := 0; i < octaves; i++ {
		total += f.noise3(x*freq, y*freq, z*freq) * amp
		maxVal += amp
		amp *= persistence
		freq *= 2
	}
	return total / maxVal
}

func fastFloor(x float64) int {
	xi := int(x)
	if x < float64(xi) {
		return xi - 1
	}
	return xi
}
