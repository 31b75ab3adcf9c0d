package chart

import "sync"

type StateMachine struct {
	mu    sync.Mutex
	state State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateUninitialized}
}

func (s *StateMachine) Apply(event Event) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nextState(s.state, event)
	return s.state
}

func (s *StateMachine) Current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func nextState(current State, event Event) State {
	switch current {
	case StateUninitialized:
		if event == EventLoad {
			return StateLoading
		}
	case StateLoading:
		switch event {
		case EventLoaded:
			return StateReady
		case EventLoad:
			return StateLoading
		case EventClose:
			return StateUninitialized
		}
	case StateReady:
		switch event {
		case EventLoad:
			return StateLoading
		case EventTick:
			return StateReady
		case EventClose:
			return StateUninitialized
		}
	}
	return current
}
