package router_test

import (
	"fmt"

	"github.com/normanking/okpi/internal/router"
	"github.com/normanking/okpi/pkg/skill"
)

type timerSkill struct{}

func (timerSkill) Utterances() []string {
	return []string{"set a timer for {minutes} minutes"}
}

func (timerSkill) Invoke(intent skill.Intent, out skill.Sink) {
	minutes, _ := intent.Slot("minutes")
	out.Emit("timer set for " + minutes + " minutes")
}

// ExampleCompile shows how a phrase template captures placeholder values.
func ExampleCompile() {
	p, err := router.Compile("set a timer for {minutes} minutes")
	if err != nil {
		panic(err)
	}

	slots, ok := p.Match("Set a timer for   10 minutes")
	fmt.Println(ok, slots["minutes"])

	_, ok = p.Match("set a timer")
	fmt.Println(ok)

	// Output:
	// true 10
	// false
}

// ExampleRouter_Process dispatches one matching and one unknown utterance.
func ExampleRouter_Process() {
	r, err := router.New(router.Config{
		Sink: skill.SinkFunc(func(text string) { fmt.Println(text) }),
	})
	if err != nil {
		panic(err)
	}
	if err := r.Register(timerSkill{}); err != nil {
		panic(err)
	}

	r.Process("set a timer for 5 minutes")
	r.Process("open the pod bay doors")

	// Output:
	// timer set for 5 minutes
	// Sorry, I did not understand open the pod bay doors
}
