// Package fixture builds small graphs shared by package tests.
package fixture

import (
	"time"

	"github.com/logflow/ccm/pkg/ccm"
)

// T1 and T2 are the fixed timestamps used by the fixtures.
var (
	T1 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	T2 = time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC)
	T3 = time.Date(2024, 3, 1, 8, 10, 0, 0, time.UTC)
)

// ScenarioA builds: process event p1 (T1, activity "assemble") related to
// object o1 (type "batch"), and IoT event i1 (T2) with no related object.
func ScenarioA() *ccm.Graph {
	g := ccm.NewGraph()
	must(g.AddObject(ccm.NewObject("o1", "batch")))
	must(g.AddActivity(ccm.NewActivity("a1", "assemble")))
	must(g.AddEvent(ccm.NewEvent(ccm.ProcessEvent, "p1", "Assemble", T1)))
	must(g.AddEvent(ccm.NewEvent(ccm.IoTEvent, "i1", "FeatureOfInterest", T2)))
	must(g.SetActivity("p1", "a1"))
	must(g.RelateEventObject("p1", "o1", ""))
	return g
}

// Plant builds a graph that exercises every entity variant and edge kind:
//
//	objects   o1 batch (case_object), o2 press (machine), o3 sensor (sensor)
//	sources   mes (information system), dev1 (iot device)
//	events    p1, p2 process events; i1 iot event; ob1 observation
//	edges     p1-o1, p1-o2, p2-o1 (e2o); o1-o2 (o2o); p2 <- i1, ob1 -analyzed_by-> i1 (e2e)
func Plant() *ccm.Graph {
	g := ccm.NewGraph()

	o1 := ccm.NewObject("o1", "batch")
	o1.Class = ccm.ClassCaseObject
	o1.Attributes["weight"] = int64(120)
	o1.Attributes["priority"] = "high"
	must(g.AddObject(o1))

	o2 := ccm.NewObject("o2", "press")
	o2.Class = ccm.ClassMachine
	o2.Attributes["line"] = int64(3)
	must(g.AddObject(o2))

	o3 := ccm.NewObject("o3", "thermometer")
	o3.Class = ccm.ClassSensor
	o3.Attributes["unit"] = "celsius"
	must(g.AddObject(o3))

	mes, err := g.AddInformationSystem("mes", "Manufacturing Execution System")
	must(err)
	mes.Attributes["vendor"] = "acme"
	dev, err := g.AddIoTDevice("dev1", "Press sensor")
	must(err)
	dev.Attributes["firmware"] = "1.2.0"

	assemble := ccm.NewActivity("act-assemble", "assemble")
	assemble.Attributes["cost"] = 12.5
	must(g.AddActivity(assemble))
	must(g.AddActivity(ccm.NewActivity("act-inspect", "inspect")))

	p1 := ccm.NewEvent(ccm.ProcessEvent, "p1", "Assemble", T1)
	p1.Attributes["operator"] = "alice"
	must(g.AddEvent(p1))
	p2 := ccm.NewEvent(ccm.ProcessEvent, "p2", "Inspect", T3)
	p2.Attributes["passed"] = true
	must(g.AddEvent(p2))
	i1 := ccm.NewEvent(ccm.IoTEvent, "i1", "FeatureOfInterest", T2)
	i1.Attributes["temperature"] = 71.5
	must(g.AddEvent(i1))
	ob1 := ccm.NewEvent(ccm.Observation, "ob1", "Measurement", T2)
	ob1.Attributes["observed_property"] = "temperature"
	ob1.Attributes["value"] = 71.5
	must(g.AddEvent(ob1))

	must(g.SetActivity("p1", "act-assemble"))
	must(g.SetActivity("p2", "act-inspect"))
	must(g.RelateEventObject("p1", "o1", ""))
	must(g.RelateEventObject("p1", "o2", "resource"))
	must(g.RelateEventObject("p2", "o1", ""))
	must(g.RelateEventObject("ob1", "o3", ""))
	must(g.RelateObjects("o1", "o2", "processed_on"))
	must(g.DeriveEvent("p2", "i1", ""))
	must(g.DeriveEvent("ob1", "i1", "analyzed_by"))
	must(g.RecordEvent("p1", "mes"))
	must(g.RecordEvent("p2", "mes"))
	must(g.RecordEvent("i1", "dev1"))
	must(g.RecordEvent("ob1", "dev1"))
	must(g.SetObjectDataSource("o3", "dev1"))

	return g
}

// Snapshot flattens g into a comparable form: every entity's Serialize()
// keyed by namespace and id, plus the three edge lists under "edges".
// Collection order is not captured, so graphs loaded through different
// paths compare equal when they hold the same content.
func Snapshot(g *ccm.Graph) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, o := range g.Objects() {
		out[ccm.NamespaceObject+"/"+o.ID] = o.Serialize()
	}
	for _, e := range g.Events() {
		out[ccm.NamespaceEvent+"/"+e.ID] = e.Serialize()
	}
	for _, a := range g.Activities() {
		out[ccm.NamespaceActivity+"/"+a.ID] = a.Serialize()
	}
	for _, d := range g.DataSources() {
		out[ccm.NamespaceDataSource+"/"+d.ID] = d.Serialize()
	}
	out["edges"] = map[string]any{
		"o2o": g.O2O(),
		"e2o": g.E2O(),
		"e2e": g.E2E(),
	}
	return out
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
