package database

import "github.com/go-faster/errors"

var ErrUserAlreadyExist = errors.New("user already exist")
var ErrReferralCodeTaken = errors.New("referral code already taken")
var ErrUserNotExist = errors.New("user not exist")
var ErrWalletNotExist = errors.New("wallet not exist")
var ErrTaskNotExist = errors.New("task not exist")
var ErrInvalidTaskState = errors.New("task is not in a creditable state")
var ErrAlreadyClaimedToday = errors.New("daily bonus already claimed today")
var ErrInsufficientBalance = errors.New("insufficient balance")
var ErrWithdrawalNotExist = errors.New("withdrawal not exist")
var ErrInvalidStateTransition = errors.New("withdrawal is not pending")
var ErrDuplicateEvent = errors.New("external transaction already credited")
