// Package geoip resolves server addresses to a country using a local maxmind
// database. The database is optional, without one every lookup simply misses.
package geoip

import (
	"errors"
	"net"
	"net/netip"
	"strings"

	"github.com/oschwald/maxminddb-golang/v2"
)

var (
	ErrInvalidIP = errors.New("invalid ip")
	ErrLookup    = errors.New("error trying to lookup address")
	ErrOpenDB    = errors.New("failed to open geoip database")
)

type Record struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

// New opens a country database at the given path. An empty path returns a
// disabled resolver rather than an error, geoip is a nicety not a requirement.
func New(path string) (*Resolver, error) {
	if path == "" {
		return &Resolver{}, nil
	}

	reader, errOpen := maxminddb.Open(path)
	if errOpen != nil {
		return nil, errors.Join(errOpen, ErrOpenDB)
	}

	return &Resolver{db: reader}, nil
}

type Resolver struct {
	db *maxminddb.Reader
}

func (r *Resolver) Close() error {
	if r.db == nil {
		return nil
	}

	return r.db.Close()
}

// Lookup resolves a host or host:port to a country record.
func (r *Resolver) Lookup(address string) (Record, error) {
	var record Record

	if r.db == nil {
		return record, nil
	}

	if host, _, errSplit := net.SplitHostPort(address); errSplit == nil {
		address = host
	}

	ip, err := netip.ParseAddr(address)
	if err != nil {
		ips, errHost := net.LookupHost(address)
		if errHost != nil || len(ips) == 0 {
			return record, errors.Join(errHost, ErrInvalidIP)
		}

		ip, err = netip.ParseAddr(ips[0])
		if err != nil {
			return record, errors.Join(err, ErrInvalidIP)
		}
	}

	if err = r.db.Lookup(ip).Decode(&record); err != nil {
		return record, errors.Join(err, ErrLookup)
	}

	return record, nil
}

// Country returns just the ISO code for an address, empty when unknown.
func (r *Resolver) Country(address string) string {
	if strings.TrimSpace(address) == "" {
		return ""
	}

	record, err := r.Lookup(address)
	if err != nil {
		return ""
	}

	return record.Country.ISOCode
}
