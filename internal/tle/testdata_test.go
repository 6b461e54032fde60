package tle

const (
	issName  = "ISS (ZARYA)"
	issLine1 = "1 25544U 98067A   20045.18587073  .00000950  00000-0  25302-4 0  9990"
	issLine2 = "2 25544  51.6465 225.6886 0003880 279.7398 160.7457 15.49165514212792"

	geoName  = "GEO TEST"
	geoLine1 = "1 28884U 05041A   20100.50000000 -.00000250  00000-0  00000+0 0  9995"
	geoLine2 = "2 28884   0.0150 270.0000 0002000  90.0000 180.0000  1.00271173 53007"

	iss2008Line1 = "1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927"
	iss2008Line2 = "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537"

	alpha5Line1 = "1 A0001U 22001A   22010.50000000  .00000000  00000-0  00000-0 0  9996"
	alpha5Line2 = "2 A0001  97.5000  10.0000 0010000  45.0000 315.0000 15.20000000  1003"
)

func threeLine(name, l1, l2 string) string {
	return name + "\n" + l1 + "\n" + l2 + "\n"
}
