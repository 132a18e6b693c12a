// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/bureau-foundation/tracehook/lib/agent"
	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/schema/measure"
)

const shopPackage = "example.com/tracehook-demo/shop"

var errCardDeclined = errors.New("card declined")

// shop is the instrumented workload: every checkout reserves stock
// with two queries and then charges a card, which sometimes fails.
type shop struct {
	agent *agent.Agent
	clock clock.Clock

	checkout ident.LocalID
	reserve  ident.LocalID
	charge   ident.LocalID

	timer     ident.LocalID
	sql       ident.LocalID
	exception ident.LocalID
}

func newShop(monitor *agent.Agent, clk clock.Clock) *shop {
	s := &shop{
		agent:     monitor,
		clock:     clk,
		checkout:  monitor.RegisterMethod(ident.MethodDescriptor{Package: shopPackage, Receiver: "*Cart", Name: "Checkout", Parameters: []string{"context.Context"}, Results: []string{"error"}}),
		reserve:   monitor.RegisterMethod(ident.MethodDescriptor{Package: shopPackage, Receiver: "*Inventory", Name: "Reserve", Parameters: []string{"context.Context", "string", "int"}, Results: []string{"error"}}),
		charge:    monitor.RegisterMethod(ident.MethodDescriptor{Package: shopPackage, Name: "charge", Parameters: []string{"context.Context", "int64"}, Results: []string{"error"}}),
		timer:     monitor.RegisterSensorType(ident.SensorTypeDescriptor{Name: "timer", Kind: ident.MethodSensor}),
		sql:       monitor.RegisterSensorType(ident.SensorTypeDescriptor{Name: "sql", Kind: ident.MethodSensor, Settings: map[string]string{"driver": "demo"}}),
		exception: monitor.RegisterSensorType(ident.SensorTypeDescriptor{Name: "exception", Kind: ident.MethodSensor}),
	}
	for _, method := range []ident.LocalID{s.checkout, s.reserve, s.charge} {
		monitor.MapSensorTypeToMethod(s.timer, method)
	}
	monitor.MapSensorTypeToMethod(s.sql, s.reserve)
	monitor.MapSensorTypeToMethod(s.exception, s.charge)
	return s
}

// serve runs checkouts until ctx is done. Each worker owns its random
// source.
func (s *shop) serve(ctx context.Context, worker uint64) {
	random := rand.New(rand.NewPCG(uint64(s.clock.Now().UnixNano()), worker))
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(time.Duration(100+random.IntN(400)) * time.Millisecond):
		}
		s.agent.Trace(ctx, s.checkout, s.timer, func(ctx context.Context) error {
			return s.runCheckout(ctx, random)
		})
	}
}

func (s *shop) runCheckout(ctx context.Context, random *rand.Rand) error {
	err := s.agent.Trace(ctx, s.reserve, s.timer, func(ctx context.Context) error {
		for _, statement := range []string{
			"SELECT quantity FROM stock WHERE sku = ?",
			"UPDATE stock SET quantity = quantity - ? WHERE sku = ?",
		} {
			elapsed := time.Duration(1+random.IntN(20)) * time.Millisecond
			s.clock.Sleep(elapsed)
			s.agent.Calls().Record(ctx, s.sql, s.reserve, statement, measure.SQL{Statement: statement, Duration: elapsed})
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.agent.Trace(ctx, s.charge, s.timer, func(ctx context.Context) error {
		s.clock.Sleep(time.Duration(5+random.IntN(50)) * time.Millisecond)
		if random.IntN(10) == 0 {
			s.agent.Calls().Record(ctx, s.exception, s.charge, "", measure.Exception{
				Type:    "*errors.errorString",
				Message: errCardDeclined.Error(),
				Event:   measure.ExceptionCreated,
			})
			return errCardDeclined
		}
		return nil
	})
}
